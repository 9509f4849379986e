package worker

import "errors"

var (
	ErrNotRunning     = errors.New("queue is not running")
	ErrStopped        = errors.New("queue stopped before the job ran")
	ErrInvalidRequest = errors.New("invalid request")
)
