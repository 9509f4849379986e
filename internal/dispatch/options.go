package dispatch

import (
	"io"
	"log/slog"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a custom logger for the Dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithOutput sets where results and diagnostics are written.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(d *Dispatcher) {
		if stdout != nil {
			d.stdout = stdout
		}
		if stderr != nil {
			d.stderr = stderr
		}
	}
}

// WithOperations registers operations at construction. Invalid or
// duplicate definitions make New fail.
func WithOperations(ops ...Operation) Option {
	return func(d *Dispatcher) {
		d.pending = append(d.pending, ops...)
	}
}
