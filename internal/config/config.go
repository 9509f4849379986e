// Package config loads envbridge settings: the dependency manifest, asset
// location, space thresholds and bridge behavior. Built-in defaults are
// embedded; a TOML file may override them.
package config

import (
	"os"
	"path/filepath"
)

// Dependency targets.
const (
	TargetIsolated = "isolated"
	TargetHost     = "host"
)

// Bridge activation modes.
const (
	ActivationDirect = "direct"
	ActivationScript = "script"
)

// Config is the complete envbridge configuration.
type Config struct {
	Logging      Logging      `toml:"logging"`
	Environment  Environment  `toml:"environment"`
	Space        Space        `toml:"space"`
	Dependencies []Dependency `toml:"dependencies"`
	Asset        Asset        `toml:"asset"`
	Bridge       Bridge       `toml:"bridge"`
	Generator    Generator    `toml:"generator"`
	State        State        `toml:"state"`
}

type Logging struct {
	Level       string `toml:"level"        env_interpolation:"yes"`
	Format      string `toml:"format"       env_interpolation:"yes"`
	Output      string `toml:"output"       env_interpolation:"yes"`
	DispatchLog string `toml:"dispatch_log" env_interpolation:"yes"`
}

// Environment locates the isolated environment and the interpreters around it.
type Environment struct {
	Root            string `toml:"root"             env_interpolation:"yes"`
	VenvDir         string `toml:"venv_dir"`
	BaseInterpreter string `toml:"base_interpreter" env_interpolation:"yes"`
	HostInterpreter string `toml:"host_interpreter" env_interpolation:"yes"`
	MinPythonMinor  int    `toml:"min_python_minor"`
}

// ResolveRoot returns the absolute environment root, defaulting to a
// directory under the user cache dir.
func (e Environment) ResolveRoot() (string, error) {
	if e.Root != "" {
		return filepath.Abs(e.Root)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "envbridge", "env"), nil
}

// Space holds the free-space thresholds checked before large writes.
type Space struct {
	RequiredBytes uint64 `toml:"required_bytes"`
	BufferBytes   uint64 `toml:"buffer_bytes"`
}

// Dependency is one manifest entry. Order in the manifest is install order.
type Dependency struct {
	Name      string   `toml:"name"`
	Version   string   `toml:"version"`
	Module    string   `toml:"module"`
	Target    string   `toml:"target"`
	ExtraArgs []string `toml:"extra_args" env_interpolation:"yes"`
}

// Asset is the remote model archive.
type Asset struct {
	URL       string `toml:"url"  env_interpolation:"yes"`
	Dir       string `toml:"dir"  env_interpolation:"yes"`
	Name      string `toml:"name"`
	ChunkSize int    `toml:"chunk_size"`
}

// Bridge controls how operations are invoked inside the environment.
type Bridge struct {
	EntryPoint  []string `toml:"entry_point" env_interpolation:"yes"`
	Activation  string   `toml:"activation"`
	StderrLimit int      `toml:"stderr_limit"`
}

// Generator is the external command run_generation delegates to.
type Generator struct {
	Command []string `toml:"command" env_interpolation:"yes"`
}

// State locates the persisted path log. Empty means the per-user default.
type State struct {
	Path string `toml:"path" env_interpolation:"yes"`
}
