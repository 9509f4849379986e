package provision

import (
	"errors"
	"fmt"
)

var (
	ErrProvisionFailed = errors.New("environment provisioning failed")
	ErrVenvCreate      = errors.New("failed to create virtual environment")
	ErrMarkersMissing  = errors.New("environment marker files missing")
)

// ProvisionError reports the stage that failed and the last one that
// completed. Calling EnsureReady again resumes after LastCompleted.
type ProvisionError struct {
	Stage         string
	LastCompleted string
	AttemptID     string
	Err           error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning stage %s failed (last completed %s): %v",
		e.Stage, e.LastCompleted, e.Err)
}

func (e *ProvisionError) Unwrap() []error {
	return []error{ErrProvisionFailed, e.Err}
}
