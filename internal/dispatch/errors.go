package dispatch

import "errors"

var (
	ErrNoOperation        = errors.New("no operation given")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrDuplicateOperation = errors.New("operation already registered")
	ErrInvalidOperation   = errors.New("invalid operation definition")
	ErrOperationPanic     = errors.New("operation panicked")
	ErrGeneratorFailed    = errors.New("generator failed")
	ErrNoOutput           = errors.New("generator produced no output file")
	ErrGeneratorMissing   = errors.New("generator is not installed in the environment")
)
