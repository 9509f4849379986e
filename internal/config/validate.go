package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

var (
	validLevels     = []string{"trace", "debug", "info", "warn", "warning", "error"}
	validFormats    = []string{"text", "json"}
	packageNameExpr = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	versionOps      = []string{"===", "==", ">=", "<=", "~=", "!=", ">", "<"}
)

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errz []error

	if !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		errz = append(errz, fmt.Errorf("logging: unknown level %q", c.Logging.Level))
	}
	if !slices.Contains(validFormats, strings.ToLower(c.Logging.Format)) {
		errz = append(errz, fmt.Errorf("logging: unknown format %q", c.Logging.Format))
	}

	if c.Environment.VenvDir == "" {
		errz = append(errz, errors.New("environment: venv_dir is empty"))
	}
	if c.Environment.MinPythonMinor < 0 {
		errz = append(errz, errors.New("environment: min_python_minor is negative"))
	}

	if c.Space.RequiredBytes == 0 {
		errz = append(errz, errors.New("space: required_bytes must be positive"))
	}

	errz = append(errz, c.validateDependencies()...)

	if err := validateURL(c.Asset.URL); err != nil {
		errz = append(errz, fmt.Errorf("asset: %w", err))
	}
	if c.Asset.Name == "" {
		errz = append(errz, errors.New("asset: name is empty"))
	} else if strings.ContainsAny(c.Asset.Name, `/\`) {
		errz = append(errz, fmt.Errorf("asset: name %q must not contain path separators", c.Asset.Name))
	}
	if c.Asset.ChunkSize <= 0 {
		errz = append(errz, errors.New("asset: chunk_size must be positive"))
	}

	if len(c.Bridge.EntryPoint) == 0 {
		errz = append(errz, errors.New("bridge: entry_point is empty"))
	}
	switch c.Bridge.Activation {
	case ActivationDirect, ActivationScript:
	default:
		errz = append(errz, fmt.Errorf("bridge: unknown activation %q", c.Bridge.Activation))
	}
	if c.Bridge.StderrLimit <= 0 {
		errz = append(errz, errors.New("bridge: stderr_limit must be positive"))
	}

	if len(c.Generator.Command) == 0 {
		errz = append(errz, errors.New("generator: command is empty"))
	}

	if len(errz) > 0 {
		return fmt.Errorf("%w: %w", ErrFailedToValidateConfig, errors.Join(errz...))
	}
	return nil
}

func (c *Config) validateDependencies() []error {
	var errz []error
	seen := make(map[string]bool, len(c.Dependencies))

	for i, dep := range c.Dependencies {
		label := fmt.Sprintf("dependencies[%d]", i)
		if dep.Name == "" {
			errz = append(errz, fmt.Errorf("%s: name is empty", label))
			continue
		}
		label = fmt.Sprintf("%s (%s)", label, dep.Name)

		if !packageNameExpr.MatchString(dep.Name) {
			errz = append(errz, fmt.Errorf("%s: invalid package name", label))
		}
		key := strings.ToLower(dep.Name)
		if seen[key] {
			errz = append(errz, fmt.Errorf("%s: duplicate dependency", label))
		}
		seen[key] = true

		if dep.Version != "" && !hasVersionOp(dep.Version) {
			errz = append(errz, fmt.Errorf("%s: version %q must start with a comparison operator", label, dep.Version))
		}
		switch dep.Target {
		case TargetIsolated, TargetHost:
		default:
			errz = append(errz, fmt.Errorf("%s: unknown target %q", label, dep.Target))
		}
	}
	return errz
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}

func hasVersionOp(v string) bool {
	for _, op := range versionOps {
		if strings.HasPrefix(v, op) {
			return true
		}
	}
	return false
}
