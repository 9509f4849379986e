package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// ErrNoInterpreter is returned when no acceptable base interpreter is found.
var ErrNoInterpreter = errors.New("no suitable python interpreter found")

// versionProbe prints major, minor and the full version on separate lines.
const versionProbe = "import sys; print(sys.version_info.major); print(sys.version_info.minor); print(sys.version.split()[0])"

// DefaultCandidates are tried in order when no interpreter is configured.
var DefaultCandidates = []string{"python3", "python"}

// Interpreter describes a resolved base interpreter.
type Interpreter struct {
	Alias   string
	Path    string
	Version string
	Major   int
	Minor   int
}

// Discovery resolves the base interpreter used to create environments.
type Discovery struct {
	Runner     procexec.Runner
	LookPath   func(string) (string, error)
	Candidates []string
	MinMinor   int
}

// Find returns the first candidate on PATH that reports Python 3 with at
// least MinMinor. A candidate containing a path separator is used as-is.
func (d Discovery) Find(ctx context.Context) (Interpreter, error) {
	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	candidates := d.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}

	var mismatches []string
	for _, alias := range candidates {
		path, err := lookPath(alias)
		if err != nil {
			continue
		}

		interp, err := d.Inspect(ctx, alias, path)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: could not read version", alias))
			continue
		}
		if interp.Major != 3 {
			mismatches = append(mismatches, fmt.Sprintf("%s -> %s (major=%d)", alias, interp.Version, interp.Major))
			continue
		}
		if interp.Minor < d.MinMinor {
			mismatches = append(mismatches, fmt.Sprintf("%s -> %s (requires >=3.%d)", alias, interp.Version, d.MinMinor))
			continue
		}
		return interp, nil
	}

	if len(mismatches) > 0 {
		return Interpreter{}, fmt.Errorf("%w: python 3.%d+ is required; found %s",
			ErrNoInterpreter, d.MinMinor, strings.Join(mismatches, "; "))
	}
	return Interpreter{}, fmt.Errorf("%w: none of %s found in PATH",
		ErrNoInterpreter, strings.Join(candidates, ", "))
}

// Inspect asks the interpreter at path for its version.
func (d Discovery) Inspect(ctx context.Context, alias, path string) (Interpreter, error) {
	if d.Runner == nil {
		return Interpreter{}, errors.New("discovery has no runner")
	}
	res, err := d.Runner.Run(ctx, procexec.Command{Path: path, Args: []string{"-c", versionProbe}})
	if err != nil {
		return Interpreter{}, err
	}
	if !res.Success() {
		return Interpreter{}, fmt.Errorf("version probe exited %d", res.ExitCode)
	}

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) < 3 {
		return Interpreter{}, errors.New("unexpected version response")
	}
	major, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Interpreter{}, fmt.Errorf("invalid major version: %w", err)
	}
	minor, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil {
		return Interpreter{}, fmt.Errorf("invalid minor version: %w", err)
	}

	return Interpreter{
		Alias:   alias,
		Path:    path,
		Version: strings.TrimSpace(lines[2]),
		Major:   major,
		Minor:   minor,
	}, nil
}
