package install

import "strings"

// Target selects which interpreter a dependency is installed into.
type Target string

const (
	TargetIsolated Target = "isolated"
	TargetHost     Target = "host"
)

// Spec is one manifest entry.
type Spec struct {
	Name string
	// Version is an optional constraint appended to Name, e.g. "==1.12.1".
	Version string
	// Module is the import name when it differs from Name.
	Module    string
	Target    Target
	ExtraArgs []string
}

// Requirement is the pip requirement string.
func (s Spec) Requirement() string {
	return s.Name + s.Version
}

// ImportName is the module imported to verify a host install.
func (s Spec) ImportName() string {
	if s.Module != "" {
		return s.Module
	}
	return strings.ReplaceAll(s.Name, "-", "_")
}

// Interpreters names the executables each Target installs into.
type Interpreters struct {
	Isolated string
	Host     string
}

func (i Interpreters) forTarget(t Target) string {
	if t == TargetHost {
		return i.Host
	}
	return i.Isolated
}
