package provision

import (
	"context"
	"log/slog"

	"github.com/atlanticdynamic/envbridge/internal/fetch"
	"github.com/atlanticdynamic/envbridge/internal/install"
	"github.com/atlanticdynamic/envbridge/internal/platform"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// Installer is satisfied by *install.Installer.
type Installer interface {
	EnsurePip(ctx context.Context, python string) error
	Install(ctx context.Context, manifest []install.Spec, interp install.Interpreters) error
}

// Fetcher is satisfied by *fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, asset fetch.Asset) (string, error)
}

// SpaceChecker is satisfied by *diskspace.Guard.
type SpaceChecker interface {
	Require(path string, required, buffer uint64) error
}

// PathStore is satisfied by *pathstore.Store.
type PathStore interface {
	Read(key string) (string, error)
	Record(key, path string) error
	Delete(key string) error
}

// DiscoverFunc finds the base interpreter used to create the environment.
type DiscoverFunc func(ctx context.Context) (platform.Interpreter, error)

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogHandler sets the handler attempt logs are forwarded to.
func WithLogHandler(handler slog.Handler) Option {
	return func(p *Provisioner) {
		if handler != nil {
			p.handler = handler
		}
	}
}

// WithRunner sets the runner used for venv creation.
func WithRunner(runner procexec.Runner) Option {
	return func(p *Provisioner) {
		p.runner = runner
	}
}

// WithInstaller replaces the dependency installer.
func WithInstaller(installer Installer) Option {
	return func(p *Provisioner) {
		p.installer = installer
	}
}

// WithFetcher replaces the asset fetcher.
func WithFetcher(fetcher Fetcher) Option {
	return func(p *Provisioner) {
		p.fetcher = fetcher
	}
}

// WithSpaceGuard enables the free-space check before venv creation.
func WithSpaceGuard(guard SpaceChecker) Option {
	return func(p *Provisioner) {
		p.guard = guard
	}
}

// WithDiscover replaces base interpreter discovery.
func WithDiscover(fn DiscoverFunc) Option {
	return func(p *Provisioner) {
		p.discover = fn
	}
}
