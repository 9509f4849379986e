package worker

import (
	"context"
	"log/slog"
)

type Option func(*Queue)

// WithLogger sets a custom logger for the Queue.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithLogHandler sets a custom log handler for the Queue.
func WithLogHandler(handler slog.Handler) Option {
	return func(q *Queue) {
		q.logger = slog.New(handler).WithGroup("worker.Queue")
	}
}

// WithContext sets the parent context; canceling it stops the Queue.
func WithContext(ctx context.Context) Option {
	return func(q *Queue) {
		q.parentCtx = ctx
	}
}

// WithDepth sets how many jobs may wait behind the running one.
func WithDepth(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.depth = n
		}
	}
}
