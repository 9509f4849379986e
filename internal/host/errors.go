package host

import "errors"

var (
	ErrNotReady      = errors.New("environment is not ready")
	ErrInvalidConfig = errors.New("invalid host configuration")
)
