package install

import (
	"errors"
	"fmt"
)

var (
	ErrInstallFailed = errors.New("dependency install failed")
	ErrPipMissing    = errors.New("pip is not available")
	ErrNoInterpreter = errors.New("no interpreter for target")
)

// Install steps reported in InstallError.
const (
	StepInstall = "install"
	StepImport  = "import"
	StepUpgrade = "upgrade"
)

// InstallError reports the dependency whose installation stopped the manifest.
type InstallError struct {
	Dependency   string
	Step         string
	ExitCode     int
	Stderr       string
	ImportFailed bool
	Err          error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("%s of %s failed with exit code %d", e.Step, e.Dependency, e.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s of %s failed: %v", e.Step, e.Dependency, e.Err)
	}
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

func (e *InstallError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInstallFailed, e.Err}
	}
	return []error{ErrInstallFailed}
}
