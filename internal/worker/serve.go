package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/atlanticdynamic/envbridge/internal/bridge"
	"github.com/atlanticdynamic/envbridge/internal/finitestate"
	"github.com/robbyt/go-supervisor/supervisor"
)

var (
	_ supervisor.Runnable  = (*Server)(nil)
	_ supervisor.Stateable = (*Server)(nil)
)

const maxLineBytes = 1 << 20

// Request is one line of serve input.
type Request struct {
	ID        string            `json:"id"`
	Operation string            `json:"operation"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// Response is one line of serve output. Exactly one of Result and Error is
// set.
type Response struct {
	ID     string         `json:"id"`
	Result *string        `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed request. ExitCode and Stderr are only
// set when the dispatcher itself failed.
type ResponseError struct {
	Message  string `json:"message"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

func newResponse(out Outcome) Response {
	if out.Err == nil {
		result := out.Result
		return Response{ID: out.ID, Result: &result}
	}
	respErr := &ResponseError{Message: out.Err.Error()}
	var bridgeErr *bridge.Error
	if errors.As(out.Err, &bridgeErr) {
		code := bridgeErr.ExitCode
		respErr.ExitCode = &code
		respErr.Stderr = bridgeErr.StderrExcerpt
	}
	return Response{ID: out.ID, Error: respErr}
}

// Server reads requests from in, submits them to a Queue and writes one
// response line per request to out. It finishes once in is exhausted and
// every accepted request has been answered.
type Server struct {
	queue  *Queue
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
	fsm    finitestate.Machine

	writeMu sync.Mutex
	pending sync.WaitGroup
	done    chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewServer returns a Server bound to queue.
func NewServer(queue *Queue, in io.Reader, out io.Writer, handler slog.Handler) (*Server, error) {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	s := &Server{
		queue:  queue,
		in:     in,
		out:    out,
		logger: slog.New(handler).WithGroup("worker.Server"),
		done:   make(chan struct{}),
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	machine, err := finitestate.New(s.logger.WithGroup("fsm").Handler())
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}
	s.fsm = machine
	return s, nil
}

// String implements the supervisor.Runnable interface
func (s *Server) String() string {
	return "worker.Server"
}

// Done is closed when Run returns.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Run implements the supervisor.Runnable interface
func (s *Server) Run(ctx context.Context) error {
	defer close(s.done)
	if err := s.fsm.Transition(finitestate.StatusBooting); err != nil {
		return fmt.Errorf("failed to transition to booting state: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.runCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.awaitQueue(ctx); err != nil {
		if stateErr := s.fsm.Transition(finitestate.StatusError); stateErr != nil {
			s.logger.Error("Failed to transition to error state", "error", stateErr)
		}
		return err
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go s.read(ctx, lines, readErr)

	if err := s.fsm.Transition(finitestate.StatusRunning); err != nil {
		return fmt.Errorf("failed to transition to running state: %w", err)
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				runErr = <-readErr
				break loop
			}
			s.handle(ctx, line)
		}
	}

	s.pending.Wait()
	if s.fsm.GetState() != finitestate.StatusStopping {
		if err := s.fsm.Transition(finitestate.StatusStopping); err != nil {
			s.logger.Error("Failed to transition to stopping state", "error", err)
		}
	}
	if err := s.fsm.Transition(finitestate.StatusStopped); err != nil {
		return fmt.Errorf("failed to transition to stopped state: %w", err)
	}
	s.logger.Debug("Server finished")
	return runErr
}

// awaitQueue blocks until the queue accepts jobs.
func (s *Server) awaitQueue(ctx context.Context) error {
	states := s.queue.GetStateChan(ctx)
	for {
		switch s.queue.GetState() {
		case finitestate.StatusRunning:
			return nil
		case finitestate.StatusStopping, finitestate.StatusStopped, finitestate.StatusError:
			return ErrNotRunning
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-states:
			if !ok {
				return ctx.Err()
			}
		}
	}
}

func (s *Server) read(ctx context.Context, lines chan<- []byte, readErr chan<- error) {
	defer close(lines)
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case lines <- line:
		case <-ctx.Done():
			readErr <- nil
			return
		}
	}
	if err := scanner.Err(); err != nil {
		readErr <- fmt.Errorf("failed to read requests: %w", err)
		return
	}
	readErr <- nil
}

func (s *Server) handle(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(Response{ID: req.ID, Error: &ResponseError{
			Message: fmt.Sprintf("%v: %v", ErrInvalidRequest, err),
		}})
		return
	}
	if req.Operation == "" {
		s.write(Response{ID: req.ID, Error: &ResponseError{
			Message: fmt.Sprintf("%v: missing operation", ErrInvalidRequest),
		}})
		return
	}

	done, err := s.queue.Submit(ctx, Job{ID: req.ID, Operation: req.Operation, Arguments: req.Arguments})
	if err != nil {
		s.write(newResponse(Outcome{ID: req.ID, Err: err}))
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.write(newResponse(<-done))
	}()
}

func (s *Server) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode response", "id", resp.ID, "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error("Failed to write response", "id", resp.ID, "error", err)
	}
}

// Stop implements the supervisor.Runnable interface
func (s *Server) Stop() {
	// A server that already drained its input has nothing to stop.
	if s.fsm.GetState() == finitestate.StatusRunning {
		if err := s.fsm.Transition(finitestate.StatusStopping); err != nil {
			s.logger.Error("Failed to transition to stopping state", "error", err)
		}
	}
	s.runCancel()
}

func (s *Server) GetState() string {
	return s.fsm.GetState()
}

func (s *Server) GetStateChan(ctx context.Context) <-chan string {
	return s.fsm.GetStateChan(ctx)
}

func (s *Server) IsRunning() bool {
	return s.fsm.GetState() == finitestate.StatusRunning
}
