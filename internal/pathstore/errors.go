package pathstore

import "errors"

var (
	// ErrNotFound is returned by Read when the key, or the whole log, is absent.
	ErrNotFound = errors.New("path not recorded")

	// ErrCorrupt means the log exists but could not be decoded.
	ErrCorrupt = errors.New("path log is corrupt")

	ErrEmptyKey = errors.New("empty key")
)
