package worker

import (
	"context"

	"github.com/atlanticdynamic/envbridge/internal/finitestate"
	"github.com/robbyt/go-supervisor/supervisor"
)

var _ supervisor.Stateable = (*Queue)(nil)

func (q *Queue) GetState() string {
	return q.fsm.GetState()
}

func (q *Queue) GetStateChan(ctx context.Context) <-chan string {
	return q.fsm.GetStateChan(ctx)
}

func (q *Queue) IsRunning() bool {
	return q.fsm.GetState() == finitestate.StatusRunning
}
