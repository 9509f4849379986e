// Package install runs pip for each entry of a dependency manifest, in order,
// stopping at the first failure.
package install

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// Installer installs manifests through a procexec.Runner.
type Installer struct {
	runner          procexec.Runner
	logger          *slog.Logger
	baseEnv         []string
	caseInsensitive bool
}

// New returns an Installer that runs commands with runner.
func New(runner procexec.Runner, opts ...Option) *Installer {
	i := &Installer{
		runner: runner,
		logger: slog.Default().WithGroup("install.Installer"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// childEnv hides user site-packages so pip does not consider a package
// installed there as satisfying the requirement.
func (i *Installer) childEnv(unset ...string) []string {
	return procexec.Environ(
		i.baseEnv,
		map[string]string{"PYTHONNOUSERSITE": "1"},
		unset,
		i.caseInsensitive,
	)
}

// Install processes manifest in the given order. Each entry is installed,
// import-checked when it targets the host, then upgraded in place. The first
// failure aborts the rest; nothing already installed is rolled back.
func (i *Installer) Install(ctx context.Context, manifest []Spec, interp Interpreters) error {
	for n, spec := range manifest {
		python := interp.forTarget(spec.Target)
		if python == "" {
			return &InstallError{
				Dependency: spec.Name,
				Step:       StepInstall,
				ExitCode:   -1,
				Err:        fmt.Errorf("%w: %s", ErrNoInterpreter, spec.Target),
			}
		}

		logger := i.logger.With("dependency", spec.Name, "target", spec.Target, "position", n+1, "total", len(manifest))
		logger.Info("Installing dependency")

		args := append([]string{"-m", "pip", "install", spec.Requirement()}, spec.ExtraArgs...)
		if err := i.run(ctx, spec, StepInstall, python, args); err != nil {
			return err
		}

		if spec.Target == TargetHost {
			if err := i.run(ctx, spec, StepImport, python, []string{"-c", "import " + spec.ImportName()}); err != nil {
				return err
			}
		}

		// The requirement keeps any version pin, so the upgrade cannot move
		// past it; extra args keep custom indexes reachable.
		args = append([]string{"-m", "pip", "install", "--upgrade", spec.Requirement()}, spec.ExtraArgs...)
		if err := i.run(ctx, spec, StepUpgrade, python, args); err != nil {
			return err
		}
		logger.Debug("Dependency installed")
	}
	return nil
}

func (i *Installer) run(ctx context.Context, spec Spec, step, python string, args []string) error {
	res, err := i.runner.Run(ctx, procexec.Command{
		Path: python,
		Args: args,
		Env:  i.childEnv(),
	})
	if err != nil {
		return &InstallError{Dependency: spec.Name, Step: step, ExitCode: -1, Err: err}
	}
	if !res.Success() {
		i.logger.Error("Dependency step failed",
			"dependency", spec.Name,
			"step", step,
			"exit_code", res.ExitCode,
		)
		return &InstallError{
			Dependency:   spec.Name,
			Step:         step,
			ExitCode:     res.ExitCode,
			Stderr:       res.Stderr,
			ImportFailed: step == StepImport,
		}
	}
	return nil
}

// EnsurePip makes pip importable for python, bootstrapping it with ensurepip
// when the probe fails. PIP_REQ_TRACKER is dropped from the bootstrap
// environment so a stale tracker directory cannot break later installs.
func (i *Installer) EnsurePip(ctx context.Context, python string) error {
	res, err := i.runner.Run(ctx, procexec.Command{
		Path: python,
		Args: []string{"-m", "pip", "--version"},
		Env:  i.childEnv("PIP_REQ_TRACKER"),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPipMissing, err)
	}
	if res.Success() {
		i.logger.Debug("pip present", "version", strings.TrimSpace(res.Stdout))
		return nil
	}

	i.logger.Info("Bootstrapping pip", "interpreter", python)
	res, err = i.runner.Run(ctx, procexec.Command{
		Path: python,
		Args: []string{"-m", "ensurepip", "--upgrade"},
		Env:  i.childEnv("PIP_REQ_TRACKER"),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPipMissing, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: ensurepip exited %d: %s", ErrPipMissing, res.ExitCode, lastLine(res.Stderr))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
