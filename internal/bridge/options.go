package bridge

import (
	"log/slog"
	"slices"

	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets a custom logger for the Bridge.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRunner replaces the process runner.
func WithRunner(runner procexec.Runner) Option {
	return func(b *Bridge) {
		b.runner = runner
	}
}

// WithGOOS overrides the operating system used to pick an activation style.
func WithGOOS(goos string) Option {
	return func(b *Bridge) {
		b.goos = goos
	}
}

// WithEntryPoint sets the dispatcher command. Elements may contain the
// placeholders {self}, {interpreter} and {root}.
func WithEntryPoint(argv ...string) Option {
	return func(b *Bridge) {
		b.entryPoint = slices.Clone(argv)
	}
}

// WithActivation selects direct or script activation.
func WithActivation(a Activation) Option {
	return func(b *Bridge) {
		b.activation = a
	}
}

// WithStderrLimit bounds the stderr excerpt kept in errors.
func WithStderrLimit(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.stderrLimit = n
		}
	}
}

// WithBaseEnv sets the environment the child inherits before activation
// variables are applied. Nil means the current process environment.
func WithBaseEnv(env []string) Option {
	return func(b *Bridge) {
		b.baseEnv = env
	}
}

// WithExecutable sets the path substituted for {self}.
func WithExecutable(path string) Option {
	return func(b *Bridge) {
		b.self = path
	}
}
