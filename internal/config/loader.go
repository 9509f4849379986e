package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atlanticdynamic/envbridge/internal/config/interpolation"
	"github.com/pelletier/go-toml/v2"
)

//go:embed defaults.toml
var defaultsTOML []byte

// Defaults returns the built-in configuration with environment references
// expanded.
func Defaults() (*Config, error) {
	cfg, err := decode(defaultsTOML)
	if err != nil {
		return nil, fmt.Errorf("%w: embedded defaults: %w", ErrFailedToLoadConfig, err)
	}
	return finish(cfg, os.LookupEnv)
}

// Load reads the file at path over the built-in defaults. An empty path
// returns the defaults. The result is not validated.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit variable lookup.
func LoadWith(path string, lookup interpolation.LookupFunc) (*Config, error) {
	base, err := decode(defaultsTOML)
	if err != nil {
		return nil, fmt.Errorf("%w: embedded defaults: %w", ErrFailedToLoadConfig, err)
	}
	if path == "" {
		return finish(base, lookup)
	}

	if ext := filepath.Ext(path); ext != ".toml" {
		return nil, fmt.Errorf(
			"%w: unsupported config format %q, only .toml is supported",
			ErrFailedToLoadConfig, ext,
		)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	override, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFailedToLoadConfig, path, err)
	}
	merge(base, override)
	return finish(base, lookup)
}

// LoadBytes decodes data over the built-in defaults.
func LoadBytes(data []byte, lookup interpolation.LookupFunc) (*Config, error) {
	base, err := decode(defaultsTOML)
	if err != nil {
		return nil, fmt.Errorf("%w: embedded defaults: %w", ErrFailedToLoadConfig, err)
	}
	override, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	merge(base, override)
	return finish(base, lookup)
}

func decode(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config, lookup interpolation.LookupFunc) (*Config, error) {
	if err := interpolation.InterpolateStruct(cfg, lookup); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInterpolation, err)
	}
	return cfg, nil
}

// merge copies every non-zero value of src onto dst. Lists replace rather
// than append, so a file's manifest is the whole manifest.
func merge(dst, src *Config) {
	setString(&dst.Logging.Level, src.Logging.Level)
	setString(&dst.Logging.Format, src.Logging.Format)
	setString(&dst.Logging.Output, src.Logging.Output)
	setString(&dst.Logging.DispatchLog, src.Logging.DispatchLog)

	setString(&dst.Environment.Root, src.Environment.Root)
	setString(&dst.Environment.VenvDir, src.Environment.VenvDir)
	setString(&dst.Environment.BaseInterpreter, src.Environment.BaseInterpreter)
	setString(&dst.Environment.HostInterpreter, src.Environment.HostInterpreter)
	if src.Environment.MinPythonMinor != 0 {
		dst.Environment.MinPythonMinor = src.Environment.MinPythonMinor
	}

	if src.Space.RequiredBytes != 0 {
		dst.Space.RequiredBytes = src.Space.RequiredBytes
	}
	if src.Space.BufferBytes != 0 {
		dst.Space.BufferBytes = src.Space.BufferBytes
	}

	if src.Dependencies != nil {
		dst.Dependencies = src.Dependencies
	}

	setString(&dst.Asset.URL, src.Asset.URL)
	setString(&dst.Asset.Dir, src.Asset.Dir)
	setString(&dst.Asset.Name, src.Asset.Name)
	if src.Asset.ChunkSize != 0 {
		dst.Asset.ChunkSize = src.Asset.ChunkSize
	}

	if src.Bridge.EntryPoint != nil {
		dst.Bridge.EntryPoint = src.Bridge.EntryPoint
	}
	setString(&dst.Bridge.Activation, src.Bridge.Activation)
	if src.Bridge.StderrLimit != 0 {
		dst.Bridge.StderrLimit = src.Bridge.StderrLimit
	}

	if src.Generator.Command != nil {
		dst.Generator.Command = src.Generator.Command
	}

	setString(&dst.State.Path, src.State.Path)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
