package host

import (
	"log/slog"

	"github.com/atlanticdynamic/envbridge/internal/diskspace"
	"github.com/atlanticdynamic/envbridge/internal/fetch"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// Option configures a Client.
type Option func(*Client)

// WithLogHandler sets the handler for all components the client builds.
func WithLogHandler(handler slog.Handler) Option {
	return func(c *Client) {
		if handler != nil {
			c.handler = handler
		}
	}
}

// WithRunner sets the process runner shared by provisioning and the bridge.
func WithRunner(runner procexec.Runner) Option {
	return func(c *Client) {
		c.runner = runner
	}
}

// WithGOOS overrides the operating system used for layouts and activation.
func WithGOOS(goos string) Option {
	return func(c *Client) {
		c.goos = goos
	}
}

// WithProbe replaces the free-space probe.
func WithProbe(probe diskspace.ProbeFunc) Option {
	return func(c *Client) {
		c.probe = probe
	}
}

// WithProgress receives asset download progress.
func WithProgress(fn fetch.ProgressFunc) Option {
	return func(c *Client) {
		c.progress = fn
	}
}

// WithExecutable sets the binary substituted for {self} in the entry point.
func WithExecutable(path string) Option {
	return func(c *Client) {
		c.executable = path
	}
}
