// Package platform maps an operating system onto the interpreter environment
// layout and activation style it uses.
package platform

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Family groups operating systems that share a venv layout.
type Family string

const (
	// FamilyWindows uses Scripts\python.exe and activate.bat.
	FamilyWindows Family = "windows"
	// FamilyPOSIX uses bin/python and a sourced bin/activate.
	FamilyPOSIX Family = "posix"
)

// UnsupportedError is returned for operating systems outside both families.
type UnsupportedError struct {
	GOOS string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf(
		"unsupported operating system %q: only darwin, linux and windows are supported",
		e.GOOS,
	)
}

// FamilyOf classifies goos.
func FamilyOf(goos string) (Family, error) {
	switch goos {
	case "windows":
		return FamilyWindows, nil
	case "linux", "darwin":
		return FamilyPOSIX, nil
	default:
		return "", &UnsupportedError{GOOS: goos}
	}
}

// Current classifies the running OS.
func Current() (Family, error) {
	return FamilyOf(runtime.GOOS)
}

// Layout locates the files of a venv rooted at VenvDir.
type Layout struct {
	Family  Family
	VenvDir string
}

// NewLayout returns the layout of venvDir on goos.
func NewLayout(goos, venvDir string) (Layout, error) {
	family, err := FamilyOf(goos)
	if err != nil {
		return Layout{}, err
	}
	return Layout{Family: family, VenvDir: venvDir}, nil
}

// BinDir is the directory holding the interpreter and console scripts.
func (l Layout) BinDir() string {
	if l.Family == FamilyWindows {
		return filepath.Join(l.VenvDir, "Scripts")
	}
	return filepath.Join(l.VenvDir, "bin")
}

// Interpreter is the private interpreter executable.
func (l Layout) Interpreter() string {
	if l.Family == FamilyWindows {
		return filepath.Join(l.BinDir(), "python.exe")
	}
	return filepath.Join(l.BinDir(), "python")
}

// ActivateScript is the activation script the venv module generates.
func (l Layout) ActivateScript() string {
	if l.Family == FamilyWindows {
		return filepath.Join(l.BinDir(), "activate.bat")
	}
	return filepath.Join(l.BinDir(), "activate")
}

// Config is pyvenv.cfg, written last by the venv module.
func (l Layout) Config() string {
	return filepath.Join(l.VenvDir, "pyvenv.cfg")
}

// Markers lists the files whose presence means the venv was created.
func (l Layout) Markers() []string {
	return []string{l.Config(), l.Interpreter()}
}

// Drive returns the volume name of the venv ("C:" on Windows, "" elsewhere).
func (l Layout) Drive() string {
	return filepath.VolumeName(l.VenvDir)
}
