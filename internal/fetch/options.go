package fetch

import (
	"log/slog"
	"net/http"
)

// SpaceChecker is satisfied by *diskspace.Guard.
type SpaceChecker interface {
	Require(path string, required, buffer uint64) error
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger for the fetcher.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithHTTPClient replaces the default proxy-aware client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithSpaceCheck requires required+buffer free bytes under the extraction
// root before any request is made.
func WithSpaceCheck(guard SpaceChecker, required, buffer uint64) Option {
	return func(f *Fetcher) {
		f.guard = guard
		f.required = required
		f.buffer = buffer
	}
}

// WithChunkSize sets the read size used while streaming.
func WithChunkSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithProgress sets the progress reporter.
func WithProgress(fn ProgressFunc) Option {
	return func(f *Fetcher) {
		f.progress = fn
	}
}
