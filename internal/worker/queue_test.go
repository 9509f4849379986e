package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlanticdynamic/envbridge/internal/finitestate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvoker struct {
	mu      sync.Mutex
	calls   []string
	active  atomic.Int32
	overlap atomic.Bool
	delay   time.Duration
	results map[string]string
	errs    map[string]error
	block   chan struct{}
}

func (r *recordingInvoker) Run(ctx context.Context, op string, args map[string]string) (string, error) {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)

	r.mu.Lock()
	r.calls = append(r.calls, op+":"+args["n"])
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	time.Sleep(r.delay)
	if err := r.errs[op]; err != nil {
		return "", err
	}
	return r.results[op] + args["n"], nil
}

func (r *recordingInvoker) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func startQueue(t *testing.T, q *Queue) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Run(ctx)
	}()
	require.Eventually(t, q.IsRunning, time.Second, 5*time.Millisecond)
	return cancel, errCh
}

func waitStopped(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Queue did not stop within timeout")
	}
}

func TestNewQueue(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(&recordingInvoker{})
	require.NoError(t, err)
	assert.Equal(t, "worker.Queue", q.String())
	assert.Equal(t, finitestate.StatusNew, q.GetState())
	assert.Equal(t, defaultDepth, q.depth)

	q, err = NewQueue(&recordingInvoker{}, WithDepth(2))
	require.NoError(t, err)
	assert.Equal(t, 2, cap(q.jobs))
}

func TestQueue_RunsJobsInOrderOneAtATime(t *testing.T) {
	t.Parallel()
	inv := &recordingInvoker{delay: 5 * time.Millisecond, results: map[string]string{"run_generation": "/out/"}}
	q, err := NewQueue(inv)
	require.NoError(t, err)
	cancel, errCh := startQueue(t, q)

	const jobs = 5
	outcomes := make([]<-chan Outcome, jobs)
	for i := range jobs {
		done, err := q.Submit(t.Context(), Job{
			ID:        string(rune('a' + i)),
			Operation: "run_generation",
			Arguments: map[string]string{"n": string(rune('0' + i))},
		})
		require.NoError(t, err)
		outcomes[i] = done
	}

	for i, done := range outcomes {
		out := <-done
		require.NoError(t, out.Err)
		assert.Equal(t, string(rune('a'+i)), out.ID)
		assert.Equal(t, "/out/"+string(rune('0'+i)), out.Result)
	}
	assert.Equal(t, []string{
		"run_generation:0", "run_generation:1", "run_generation:2", "run_generation:3", "run_generation:4",
	}, inv.Calls())
	assert.False(t, inv.overlap.Load())

	cancel()
	waitStopped(t, errCh)
	assert.Equal(t, finitestate.StatusStopped, q.GetState())
}

func TestQueue_Do(t *testing.T) {
	t.Parallel()
	failure := errors.New("dispatcher exited 1")
	inv := &recordingInvoker{errs: map[string]error{"fetch_asset": failure}}
	q, err := NewQueue(inv)
	require.NoError(t, err)
	cancel, errCh := startQueue(t, q)
	defer func() {
		cancel()
		waitStopped(t, errCh)
	}()

	out := q.Do(t.Context(), Job{Operation: "fetch_asset"})
	require.ErrorIs(t, out.Err, failure)
	assert.NotEmpty(t, out.ID)
}

func TestQueue_SubmitBeforeRun(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(&recordingInvoker{})
	require.NoError(t, err)

	_, err = q.Submit(t.Context(), Job{Operation: "operations"})
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestQueue_StopFailsWaitingJobs(t *testing.T) {
	t.Parallel()
	inv := &recordingInvoker{block: make(chan struct{})}
	q, err := NewQueue(inv)
	require.NoError(t, err)
	_, errCh := startQueue(t, q)

	running, err := q.Submit(t.Context(), Job{ID: "running", Operation: "run_generation"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(inv.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	waiting, err := q.Submit(t.Context(), Job{ID: "waiting", Operation: "run_generation"})
	require.NoError(t, err)

	q.Stop()
	waitStopped(t, errCh)

	out := <-running
	require.ErrorIs(t, out.Err, context.Canceled)
	out = <-waiting
	require.ErrorIs(t, out.Err, ErrStopped)
	assert.Equal(t, "waiting", out.ID)

	_, err = q.Submit(t.Context(), Job{Operation: "run_generation"})
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestQueue_ParentContext(t *testing.T) {
	t.Parallel()
	parent, cancelParent := context.WithCancel(t.Context())
	q, err := NewQueue(&recordingInvoker{}, WithContext(parent))
	require.NoError(t, err)
	_, errCh := startQueue(t, q)

	cancelParent()
	waitStopped(t, errCh)
	assert.Equal(t, finitestate.StatusStopped, q.GetState())
}
