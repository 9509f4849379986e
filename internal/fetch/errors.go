package fetch

import (
	"errors"
	"fmt"
)

var (
	ErrFetchFailed     = errors.New("asset fetch failed")
	ErrUnsupportedType = errors.New("unsupported archive type")
	ErrUnsafeEntry     = errors.New("archive entry escapes extraction root")
	ErrLayout          = errors.New("archive must contain exactly one top-level directory")
	ErrShortBody       = errors.New("response body shorter than declared length")
)

// Reason classifies a FetchError.
type Reason string

const (
	ReasonNetwork        Reason = "network"
	ReasonDiskSpace      Reason = "disk_space"
	ReasonCorruptArchive Reason = "corrupt_archive"
	// ReasonFilesystem covers local read, write and rename failures.
	ReasonFilesystem Reason = "filesystem"
)

// FetchError reports why an asset could not be fetched.
type FetchError struct {
	Reason     Reason
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFetchFailed, e.Err}
	}
	return []error{ErrFetchFailed}
}

func newError(reason Reason, url string, err error) *FetchError {
	return &FetchError{Reason: reason, URL: url, Err: err}
}
