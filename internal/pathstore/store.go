// Package pathstore persists the small key to path log that survives host
// restarts. It is the only cross-session state envbridge keeps: the host reads
// it at startup to decide whether first-time provisioning is needed.
package pathstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Well-known keys.
const (
	KeyEnvironment = "environment_path"
	KeyInterpreter = "interpreter_path"
	KeyAsset       = "asset_path"
)

const defaultFileName = "paths.toml"

type document struct {
	UpdatedAt time.Time         `toml:"updated_at"`
	Paths     map[string]string `toml:"paths"`
}

// Store is a TOML-file backed key/path log.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// DefaultPath returns <user config dir>/envbridge/paths.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "envbridge", defaultFileName), nil
}

// New returns a Store persisting to path. Nothing is touched on disk until the
// first Record.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default().WithGroup("pathstore.Store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the log file itself exists. It never fails.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Record stores path under key, replacing any previous value.
func (s *Store) Record(key, path string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("Overwriting unreadable path log", "path", s.path, "error", err)
	}
	if doc.Paths == nil {
		doc.Paths = make(map[string]string)
	}
	doc.Paths[key] = path
	doc.UpdatedAt = s.now().UTC().Truncate(time.Second)

	if err := s.save(doc); err != nil {
		return err
	}
	s.logger.Debug("Recorded path", "key", key, "value", path)
	return nil
}

// Read returns the path stored under key. A missing log or key yields
// ErrNotFound so callers can always fall back to provisioning from scratch.
func (s *Store) Read(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", err
	}
	value, ok := doc.Paths[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if _, ok := doc.Paths[key]; !ok {
		return nil
	}
	delete(doc.Paths, key)
	doc.UpdatedAt = s.now().UTC().Truncate(time.Second)
	return s.save(doc)
}

// Keys lists recorded keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(doc.Paths))
	for k := range doc.Paths {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *Store) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return document{}, ErrNotFound
		}
		return document{}, fmt.Errorf("failed to read path log %s: %w", s.path, err)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return doc, nil
}

// save writes the document to a temp file next to the target and renames it
// into place so readers never observe a partial log.
func (s *Store) save(doc document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create path log directory %s: %w", dir, err)
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode path log: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".paths-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp path log: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write path log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync path log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close path log: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace path log: %w", err)
	}
	return nil
}
