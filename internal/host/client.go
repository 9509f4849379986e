// Package host is the facade the host application uses: it makes sure the
// isolated environment is ready and runs operations inside it.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/atlanticdynamic/envbridge/internal/bridge"
	"github.com/atlanticdynamic/envbridge/internal/config"
	"github.com/atlanticdynamic/envbridge/internal/diskspace"
	"github.com/atlanticdynamic/envbridge/internal/fetch"
	"github.com/atlanticdynamic/envbridge/internal/install"
	"github.com/atlanticdynamic/envbridge/internal/pathstore"
	"github.com/atlanticdynamic/envbridge/internal/platform"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
	"github.com/atlanticdynamic/envbridge/internal/provision"
)

// Client provisions one environment and invokes operations in it.
type Client struct {
	cfg        *config.Config
	goos       string
	handler    slog.Handler
	runner     procexec.Runner
	probe      diskspace.ProbeFunc
	progress   fetch.ProgressFunc
	executable string
	logger     *slog.Logger

	store       *pathstore.Store
	guard       *diskspace.Guard
	provisioner *provision.Provisioner
	bridge      *bridge.Bridge

	mu   sync.RWMutex
	desc *provision.Descriptor
}

// New wires the provisioner, installer, fetcher and bridge from cfg.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	c := &Client{
		cfg:     cfg,
		goos:    runtime.GOOS,
		handler: slog.Default().Handler(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = slog.New(c.handler).WithGroup("host.Client")
	if c.runner == nil {
		c.runner = procexec.NewExecRunner(c.logger)
	}

	storePath := cfg.State.Path
	if storePath == "" {
		p, err := pathstore.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		storePath = p
	}
	c.store = pathstore.New(storePath, pathstore.WithLogger(c.logger.WithGroup("pathstore")))

	guardOpts := []diskspace.Option{diskspace.WithLogger(c.logger.WithGroup("diskspace"))}
	if c.probe != nil {
		guardOpts = append(guardOpts, diskspace.WithProbe(c.probe))
	}
	c.guard = diskspace.New(guardOpts...)

	// The full budget is reserved before the venv exists; by the time the
	// archive downloads only the buffer has to remain free.
	fetcher := fetch.New(
		fetch.WithLogger(c.logger.WithGroup("fetch")),
		fetch.WithChunkSize(cfg.Asset.ChunkSize),
		fetch.WithSpaceCheck(c.guard, 0, cfg.Space.BufferBytes),
		fetch.WithProgress(c.progress),
	)

	installer := install.New(c.runner, install.WithLogger(c.logger.WithGroup("install")))

	discovery := platform.Discovery{Runner: c.runner, MinMinor: cfg.Environment.MinPythonMinor}
	prov, err := provision.New(provision.Settings{
		GOOS:            c.goos,
		VenvDir:         cfg.Environment.VenvDir,
		Manifest:        Manifest(cfg.Dependencies),
		AssetURL:        cfg.Asset.URL,
		AssetDir:        cfg.Asset.Dir,
		AssetName:       cfg.Asset.Name,
		RequiredBytes:   cfg.Space.RequiredBytes,
		BufferBytes:     cfg.Space.BufferBytes,
		BaseInterpreter: cfg.Environment.BaseInterpreter,
		HostInterpreter: cfg.Environment.HostInterpreter,
	}, c.store,
		provision.WithLogHandler(c.handler),
		provision.WithRunner(c.runner),
		provision.WithInstaller(installer),
		provision.WithFetcher(fetcher),
		provision.WithSpaceGuard(c.guard),
		provision.WithDiscover(discovery.Find),
	)
	if err != nil {
		return nil, err
	}
	c.provisioner = prov

	bridgeOpts := []bridge.Option{
		bridge.WithLogger(c.logger.WithGroup("bridge")),
		bridge.WithRunner(c.runner),
		bridge.WithGOOS(c.goos),
		bridge.WithStderrLimit(cfg.Bridge.StderrLimit),
	}
	if cfg.Bridge.Activation != "" {
		bridgeOpts = append(bridgeOpts, bridge.WithActivation(bridge.Activation(cfg.Bridge.Activation)))
	}
	if len(cfg.Bridge.EntryPoint) > 0 {
		bridgeOpts = append(bridgeOpts, bridge.WithEntryPoint(cfg.Bridge.EntryPoint...))
	}
	if c.executable != "" {
		bridgeOpts = append(bridgeOpts, bridge.WithExecutable(c.executable))
	}
	c.bridge = bridge.New(bridgeOpts...)
	return c, nil
}

// Root returns the configured environment root.
func (c *Client) Root() (string, error) {
	return c.cfg.Environment.ResolveRoot()
}

// EnsureReady provisions root if needed. An empty root means the configured
// one.
func (c *Client) EnsureReady(ctx context.Context, root string) (*provision.Descriptor, error) {
	if root == "" {
		r, err := c.Root()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		root = r
	}

	desc, err := c.provisioner.EnsureReady(ctx, root)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.desc = desc
	c.mu.Unlock()
	return desc, nil
}

// Run invokes op in the environment made ready by the last EnsureReady.
func (c *Client) Run(ctx context.Context, op string, args map[string]string) (string, error) {
	c.mu.RLock()
	desc := c.desc
	c.mu.RUnlock()
	if desc == nil || !desc.Ready() {
		return "", ErrNotReady
	}

	return c.bridge.Invoke(ctx, bridge.Environment{
		Root:        desc.Root,
		VenvDir:     desc.VenvDir,
		Interpreter: desc.InterpreterPath,
	}, op, args)
}

// Descriptor returns the provisioner's current view of the environment.
func (c *Client) Descriptor() *provision.Descriptor {
	return c.provisioner.Descriptor()
}

// LastAttempt returns the most recent provisioning attempt, or nil.
func (c *Client) LastAttempt() *provision.Attempt {
	return c.provisioner.LastAttempt()
}

// Store returns the persisted path log.
func (c *Client) Store() *pathstore.Store {
	return c.store
}

// Guard returns the free-space guard.
func (c *Client) Guard() *diskspace.Guard {
	return c.guard
}
