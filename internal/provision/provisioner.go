// Package provision drives an environment root from nothing to READY: venv
// creation, dependency installation, asset fetch and path recording. Each
// stage is tracked by a state machine so a failed run resumes where it
// stopped.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/atlanticdynamic/envbridge/internal/fetch"
	"github.com/atlanticdynamic/envbridge/internal/finitestate"
	"github.com/atlanticdynamic/envbridge/internal/install"
	"github.com/atlanticdynamic/envbridge/internal/pathstore"
	"github.com/atlanticdynamic/envbridge/internal/platform"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// Settings is what to provision.
type Settings struct {
	// GOOS selects the venv layout. Empty means runtime.GOOS.
	GOOS     string
	VenvDir  string
	Manifest []install.Spec

	AssetURL  string
	AssetDir  string
	AssetName string

	RequiredBytes uint64
	BufferBytes   uint64

	// BaseInterpreter creates the venv. Empty means discover one.
	BaseInterpreter string
	// HostInterpreter receives host-targeted dependencies. Empty means the
	// base interpreter.
	HostInterpreter string
}

// Provisioner owns the lifecycle of one environment at a time.
type Provisioner struct {
	settings  Settings
	store     PathStore
	runner    procexec.Runner
	installer Installer
	fetcher   Fetcher
	guard     SpaceChecker
	discover  DiscoverFunc
	handler   slog.Handler
	logger    *slog.Logger

	mu          sync.Mutex
	fsm         finitestate.Machine
	desc        Descriptor
	lastAttempt *Attempt
}

// New returns a Provisioner recording into store.
func New(settings Settings, store PathStore, opts ...Option) (*Provisioner, error) {
	if settings.GOOS == "" {
		settings.GOOS = runtime.GOOS
	}
	if settings.VenvDir == "" {
		settings.VenvDir = "venv"
	}

	p := &Provisioner{
		settings: settings,
		store:    store,
		handler:  slog.Default().Handler(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = slog.New(p.handler).WithGroup("provision.Provisioner")

	if p.runner == nil {
		p.runner = procexec.NewExecRunner(p.logger)
	}
	if p.installer == nil {
		p.installer = install.New(p.runner, install.WithLogger(p.logger))
	}
	if p.fetcher == nil {
		p.fetcher = fetch.New(fetch.WithLogger(p.logger))
	}
	if p.discover == nil {
		d := platform.Discovery{Runner: p.runner}
		p.discover = d.Find
	}

	machine, err := finitestate.NewProvisionMachine(p.logger.WithGroup("fsm").Handler())
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}
	p.fsm = machine
	return p, nil
}

// State returns the current provisioning state.
func (p *Provisioner) State() string {
	return p.fsm.GetState()
}

// Descriptor returns a copy of the current environment descriptor.
func (p *Provisioner) Descriptor() *Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.desc
	d.State = p.fsm.GetState()
	return d.clone()
}

// LastAttempt returns the most recent EnsureReady attempt, or nil.
func (p *Provisioner) LastAttempt() *Attempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAttempt
}

// EnsureReady brings the environment at root to READY. A root already
// recorded in the path store whose interpreter still exists is reused
// without installing or fetching anything. After a failure, calling
// EnsureReady again skips the stages that completed.
func (p *Provisioner) EnsureReady(ctx context.Context, root string) (*Descriptor, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisionFailed, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	attempt := newAttempt(root, p.handler)
	p.lastAttempt = attempt
	log := attempt.logger

	layout, err := platform.NewLayout(p.settings.GOOS, filepath.Join(root, p.settings.VenvDir))
	if err != nil {
		return nil, p.fail(attempt, finitestate.StateVenvCreated, err)
	}

	if p.desc.Root != root {
		if p.desc.Root != "" {
			log.Info("Switching environment root", "previous", p.desc.Root)
		}
		p.reset(root, layout)
	}

	if p.fsm.GetState() == finitestate.StateReady {
		if markersExist(p.desc.MarkerFiles) {
			return p.snapshot(), nil
		}
		log.Warn("Environment markers disappeared, provisioning again")
		p.forget(log)
		p.reset(root, layout)
	}

	if p.fsm.GetState() == finitestate.StateUninitialized {
		if p.reuseRecorded(log, root, layout) {
			if err := p.fsm.Transition(finitestate.StateReady); err != nil {
				return nil, p.fail(attempt, finitestate.StateReady, err)
			}
			log.Info("Reusing recorded environment", "interpreter", p.desc.InterpreterPath)
			return p.snapshot(), nil
		}
		if err := p.createVenv(ctx, log, root, layout); err != nil {
			return nil, p.fail(attempt, finitestate.StateVenvCreated, err)
		}
		if err := p.fsm.Transition(finitestate.StateVenvCreated); err != nil {
			return nil, p.fail(attempt, finitestate.StateVenvCreated, err)
		}
	}

	if p.fsm.GetState() == finitestate.StateVenvCreated {
		if err := p.installDependencies(ctx, log); err != nil {
			return nil, p.fail(attempt, finitestate.StateDependenciesInstalled, err)
		}
		if err := p.fsm.Transition(finitestate.StateDependenciesInstalled); err != nil {
			return nil, p.fail(attempt, finitestate.StateDependenciesInstalled, err)
		}
	}

	if p.fsm.GetState() == finitestate.StateDependenciesInstalled {
		assetPath, err := p.fetcher.Fetch(ctx, p.asset(root))
		if err != nil {
			return nil, p.fail(attempt, finitestate.StateAssetReady, err)
		}
		p.desc.AssetPath = assetPath
		if err := p.fsm.Transition(finitestate.StateAssetReady); err != nil {
			return nil, p.fail(attempt, finitestate.StateAssetReady, err)
		}
	}

	if p.fsm.GetState() == finitestate.StateAssetReady {
		if err := p.record(); err != nil {
			return nil, p.fail(attempt, finitestate.StateReady, err)
		}
		if err := p.fsm.Transition(finitestate.StateReady); err != nil {
			return nil, p.fail(attempt, finitestate.StateReady, err)
		}
	}

	log.Info("Environment ready", "duration", attempt.Duration())
	return p.snapshot(), nil
}

func (p *Provisioner) reset(root string, layout platform.Layout) {
	p.desc = Descriptor{
		Root:            root,
		VenvDir:         layout.VenvDir,
		InterpreterPath: layout.Interpreter(),
		MarkerFiles:     layout.Markers(),
	}
	if p.fsm.GetState() != finitestate.StateUninitialized {
		if err := p.fsm.SetState(finitestate.StateUninitialized); err != nil {
			p.logger.Error("Failed to reset state", "error", err)
		}
	}
}

func (p *Provisioner) snapshot() *Descriptor {
	d := p.desc
	d.State = p.fsm.GetState()
	return d.clone()
}

func (p *Provisioner) fail(attempt *Attempt, stage string, err error) error {
	last := p.fsm.GetState()
	attempt.logger.Error("Provisioning failed", "stage", stage, "last_completed", last, "error", err)
	return &ProvisionError{
		Stage:         stage,
		LastCompleted: last,
		AttemptID:     attempt.ID.String(),
		Err:           err,
	}
}

// reuseRecorded adopts an environment the path store already knows about.
// Read failures of any kind mean provisioning from scratch.
func (p *Provisioner) reuseRecorded(log *slog.Logger, root string, layout platform.Layout) bool {
	recorded, err := p.store.Read(pathstore.KeyEnvironment)
	if err != nil {
		if !errors.Is(err, pathstore.ErrNotFound) {
			log.Warn("Path log unreadable, provisioning fresh", "error", err)
		}
		return false
	}
	if filepath.Clean(recorded) != root {
		log.Debug("Path log names a different environment", "recorded", recorded)
		return false
	}

	interpreter := layout.Interpreter()
	if v, err := p.store.Read(pathstore.KeyInterpreter); err == nil && v != "" {
		interpreter = v
	}
	if !fileExists(interpreter) {
		log.Warn("Recorded interpreter missing, provisioning again", "interpreter", interpreter)
		p.forget(log)
		return false
	}

	p.desc.InterpreterPath = interpreter
	p.desc.MarkerFiles = []string{interpreter}
	if v, err := p.store.Read(pathstore.KeyAsset); err == nil {
		p.desc.AssetPath = v
	}
	return true
}

func (p *Provisioner) forget(log *slog.Logger) {
	for _, key := range []string{pathstore.KeyEnvironment, pathstore.KeyInterpreter, pathstore.KeyAsset} {
		if err := p.store.Delete(key); err != nil {
			log.Warn("Failed to clear path log entry", "key", key, "error", err)
		}
	}
}

func (p *Provisioner) createVenv(ctx context.Context, log *slog.Logger, root string, layout platform.Layout) error {
	if markersExist(layout.Markers()) {
		log.Debug("Virtual environment already present", "venv", layout.VenvDir)
		return nil
	}

	if p.guard != nil {
		if err := p.guard.Require(root, p.settings.RequiredBytes, p.settings.BufferBytes); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrVenvCreate, err)
	}

	base, err := p.baseInterpreter(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVenvCreate, err)
	}

	log.Info("Creating virtual environment", "venv", layout.VenvDir, "base", base)
	res, err := p.runner.Run(ctx, procexec.Command{
		Path: base,
		Args: []string{"-m", "venv", layout.VenvDir},
		Dir:  root,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVenvCreate, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: exit code %d: %s", ErrVenvCreate, res.ExitCode, res.Stderr)
	}
	if !markersExist(layout.Markers()) {
		return fmt.Errorf("%w: %v", ErrMarkersMissing, layout.Markers())
	}
	return nil
}

func (p *Provisioner) baseInterpreter(ctx context.Context) (string, error) {
	if p.settings.BaseInterpreter != "" {
		return p.settings.BaseInterpreter, nil
	}
	interp, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	p.settings.BaseInterpreter = interp.Path
	return interp.Path, nil
}

func (p *Provisioner) installDependencies(ctx context.Context, log *slog.Logger) error {
	interps := install.Interpreters{Isolated: p.desc.InterpreterPath}
	for _, spec := range p.settings.Manifest {
		if spec.Target != install.TargetHost {
			continue
		}
		host := p.settings.HostInterpreter
		if host == "" {
			base, err := p.baseInterpreter(ctx)
			if err != nil {
				return err
			}
			host = base
		}
		interps.Host = host
		break
	}

	if err := p.installer.EnsurePip(ctx, interps.Isolated); err != nil {
		return err
	}
	log.Info("Installing dependencies", "count", len(p.settings.Manifest))
	return p.installer.Install(ctx, p.settings.Manifest, interps)
}

func (p *Provisioner) asset(root string) fetch.Asset {
	extractRoot := filepath.Join(root, p.settings.AssetDir)
	return fetch.Asset{
		URL:         p.settings.AssetURL,
		ExtractRoot: extractRoot,
		FinalPath:   filepath.Join(extractRoot, p.settings.AssetName),
	}
}

func (p *Provisioner) record() error {
	entries := []struct{ key, value string }{
		{pathstore.KeyInterpreter, p.desc.InterpreterPath},
		{pathstore.KeyAsset, p.desc.AssetPath},
		// written last: its presence is what later runs trust
		{pathstore.KeyEnvironment, p.desc.Root},
	}
	for _, e := range entries {
		if err := p.store.Record(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func markersExist(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, path := range paths {
		if !fileExists(path) {
			return false
		}
	}
	return true
}

// fileExists treats any stat failure, not only ErrNotExist, as absent so an
// unreadable marker never passes for a usable environment.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
