// Package procexec runs child processes and captures their output. Every
// subprocess envbridge starts (venv creation, pip, import checks, bridge
// invocations, the external generator) goes through a Runner so tests can
// substitute a recording fake.
package procexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrStart    = errors.New("failed to start process")
	ErrCanceled = errors.New("process canceled")
)

// Command describes one process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string

	// Env is the complete child environment. Nil inherits the parent's.
	Env []string

	Stdin io.Reader

	// Optional live copies of the output streams; output is captured either way.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports a zero exit code.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes commands. A non-zero exit is reported through
// Result.ExitCode, not as an error; errors mean the process could not be
// started or was canceled.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger.WithGroup("procexec")}
}

// Run starts cmd and blocks until it exits or ctx is done. There is no
// internal timeout: callers bound latency through ctx.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdin = cmd.Stdin

	var stdout, stderr strings.Builder
	c.Stdout = teeWriter(&stdout, cmd.Stdout)
	c.Stderr = teeWriter(&stderr, cmd.Stderr)

	r.logger.Debug("Starting process", "command", cmd.String(), "dir", cmd.Dir)
	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		r.logger.Debug("Process finished", "command", cmd.Path, "duration", result.Duration)
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%w: %w", ErrCanceled, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		r.logger.Debug("Process exited non-zero",
			"command", cmd.Path,
			"exit_code", result.ExitCode,
			"duration", result.Duration,
		)
		return result, nil
	}

	result.ExitCode = -1
	return result, fmt.Errorf("%w: %s: %w", ErrStart, cmd.Path, err)
}

func teeWriter(capture *strings.Builder, extra io.Writer) io.Writer {
	if extra == nil {
		return capture
	}
	return io.MultiWriter(capture, extra)
}
