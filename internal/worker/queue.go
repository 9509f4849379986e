// Package worker serializes operation invocations against one environment
// behind a FIFO queue and exposes it over a line-oriented JSON protocol.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/atlanticdynamic/envbridge/internal/finitestate"
	"github.com/gofrs/uuid/v5"
	"github.com/robbyt/go-supervisor/supervisor"
)

var _ supervisor.Runnable = (*Queue)(nil)

const defaultDepth = 16

// Invoker runs one operation. *host.Client satisfies it.
type Invoker interface {
	Run(ctx context.Context, op string, args map[string]string) (string, error)
}

// Job is one queued operation.
type Job struct {
	ID        string
	Operation string
	Arguments map[string]string
}

// Outcome is the result of a Job.
type Outcome struct {
	ID       string
	Result   string
	Err      error
	Duration time.Duration
}

type queued struct {
	job  Job
	done chan Outcome
}

// Queue runs submitted jobs one at a time in submission order.
type Queue struct {
	invoker Invoker
	depth   int
	logger  *slog.Logger
	fsm     finitestate.Machine

	jobs     chan queued
	stopping chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	closed bool

	runCtx    context.Context
	runCancel context.CancelFunc
	parentCtx context.Context
}

// NewQueue returns a Queue delivering jobs to invoker. A Queue runs once.
func NewQueue(invoker Invoker, opts ...Option) (*Queue, error) {
	q := &Queue{
		invoker:   invoker,
		depth:     defaultDepth,
		logger:    slog.Default().WithGroup("worker.Queue"),
		stopping:  make(chan struct{}),
		parentCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan queued, q.depth)
	q.runCtx, q.runCancel = context.WithCancel(q.parentCtx)

	machine, err := finitestate.New(q.logger.WithGroup("fsm").Handler())
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}
	q.fsm = machine
	return q, nil
}

// String implements the supervisor.Runnable interface
func (q *Queue) String() string {
	return "worker.Queue"
}

// Run implements the supervisor.Runnable interface
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Debug("Starting Queue")
	if err := q.fsm.Transition(finitestate.StatusBooting); err != nil {
		return fmt.Errorf("failed to transition to booting state: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-q.runCtx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := q.fsm.Transition(finitestate.StatusRunning); err != nil {
		return fmt.Errorf("failed to transition to running state: %w", err)
	}

	q.work(runCtx)

	q.logger.Info("Queue shutting down")
	if q.fsm.GetState() != finitestate.StatusStopping {
		if err := q.fsm.Transition(finitestate.StatusStopping); err != nil {
			q.logger.Error("Failed to transition to stopping state", "error", err)
		}
	}
	q.drain()

	if err := q.fsm.Transition(finitestate.StatusStopped); err != nil {
		return fmt.Errorf("failed to transition to stopped state: %w", err)
	}
	return nil
}

func (q *Queue) work(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case item := <-q.jobs:
			item.done <- q.execute(ctx, item.job)
		}
	}
}

func (q *Queue) execute(ctx context.Context, job Job) Outcome {
	logger := q.logger.With("job", job.ID, "operation", job.Operation)
	logger.Debug("Running job")
	start := time.Now()
	result, err := q.invoker.Run(ctx, job.Operation, job.Arguments)
	out := Outcome{ID: job.ID, Result: result, Err: err, Duration: time.Since(start)}
	if err != nil {
		logger.Warn("Job failed", "error", err, "duration", out.Duration)
	} else {
		logger.Info("Job finished", "duration", out.Duration)
	}
	return out
}

// drain fails every job still waiting once the worker has stopped.
func (q *Queue) drain() {
	q.stopOnce.Do(func() { close(q.stopping) })
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for {
		select {
		case item := <-q.jobs:
			item.done <- Outcome{ID: item.job.ID, Err: ErrStopped}
		default:
			return
		}
	}
}

// Stop implements the supervisor.Runnable interface
func (q *Queue) Stop() {
	q.logger.Debug("Stopping Queue")
	if err := q.fsm.Transition(finitestate.StatusStopping); err != nil {
		q.logger.Error("Failed to transition to stopping state", "error", err)
	}
	q.runCancel()
}

// Submit enqueues job and returns a channel that receives exactly one
// Outcome. An empty job ID is replaced with a generated one. Submit blocks
// while the queue is full.
func (q *Queue) Submit(ctx context.Context, job Job) (<-chan Outcome, error) {
	if job.ID == "" {
		job.ID = uuid.Must(uuid.NewV6()).String()
	}
	job.Arguments = maps.Clone(job.Arguments)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.IsRunning() {
		return nil, ErrNotRunning
	}

	item := queued{job: job, done: make(chan Outcome, 1)}
	select {
	case q.jobs <- item:
		return item.done, nil
	case <-q.stopping:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do submits job and waits for its outcome.
func (q *Queue) Do(ctx context.Context, job Job) Outcome {
	done, err := q.Submit(ctx, job)
	if err != nil {
		return Outcome{ID: job.ID, Err: err}
	}
	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return Outcome{ID: job.ID, Err: ctx.Err()}
	}
}
