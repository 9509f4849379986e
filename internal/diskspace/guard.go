// Package diskspace answers whether a volume has room for an environment
// before anything is written to it.
package diskspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
)

// ProbeFunc returns the bytes available to the current user on the volume
// holding path. path always exists when a probe is called.
type ProbeFunc func(path string) (uint64, error)

// Guard checks free capacity. The zero value is not usable; use New.
type Guard struct {
	probe  ProbeFunc
	logger *slog.Logger
}

type Option func(*Guard)

// WithProbe replaces the platform free-space probe.
func WithProbe(probe ProbeFunc) Option {
	return func(g *Guard) {
		g.probe = probe
	}
}

// WithLogger sets a custom logger for the Guard.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// New returns a Guard using the platform probe unless overridden.
func New(opts ...Option) *Guard {
	g := &Guard{
		probe:  freeBytes,
		logger: slog.Default().WithGroup("diskspace.Guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasCapacity reports whether free space on the volume containing path is at
// least required+buffer. path need not exist yet; its nearest existing
// ancestor is probed instead.
func (g *Guard) HasCapacity(path string, required, buffer uint64) (bool, error) {
	free, probed, err := g.Free(path)
	if err != nil {
		return false, err
	}
	needed := addSaturating(required, buffer)
	ok := free >= needed
	g.logger.Debug("Checked capacity",
		"path", path,
		"probed", probed,
		"free", free,
		"needed", needed,
		"ok", ok,
	)
	return ok, nil
}

// Require is HasCapacity returning an *InsufficientSpaceError when the
// volume is too small.
func (g *Guard) Require(path string, required, buffer uint64) error {
	free, _, err := g.Free(path)
	if err != nil {
		return err
	}
	needed := addSaturating(required, buffer)
	if free < needed {
		return &InsufficientSpaceError{Path: path, Free: free, Needed: needed}
	}
	return nil
}

// Free returns the free bytes for path along with the directory actually probed.
func (g *Guard) Free(path string) (uint64, string, error) {
	probed, err := NearestExisting(path)
	if err != nil {
		return 0, "", err
	}
	free, err := g.probe(probed)
	if err != nil {
		return 0, probed, fmt.Errorf("failed to probe free space at %s: %w", probed, err)
	}
	return free, probed, nil
}

// NearestExisting walks up from path until it finds something that exists.
func NearestExisting(path string) (string, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	for {
		_, err := os.Stat(current)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", current, err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("%w: %s", ErrNoExistingAncestor, path)
		}
		current = parent
	}
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
