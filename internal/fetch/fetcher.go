// Package fetch downloads a remote archive with progress reporting and
// unpacks it so that its single top-level directory appears atomically at
// the final path.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// DefaultChunkSize is the streaming read size.
const DefaultChunkSize = 4096

// Asset describes one remote archive and where it ends up.
type Asset struct {
	URL string
	// ArchivePath is the transient download location. Empty means
	// <ExtractRoot>/<archive name>.part.
	ArchivePath string
	ExtractRoot string
	// FinalPath must not exist before a successful fetch; the fetch is
	// skipped when it does.
	FinalPath string
}

func (a Asset) archivePath() string {
	if a.ArchivePath != "" {
		return a.ArchivePath
	}
	return filepath.Join(a.ExtractRoot, archiveName(a.URL)+".part")
}

func archiveName(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}
	return "asset"
}

// Fetcher downloads and unpacks assets.
type Fetcher struct {
	client    *http.Client
	guard     SpaceChecker
	required  uint64
	buffer    uint64
	chunkSize int
	progress  ProgressFunc
	logger    *slog.Logger
}

// New returns a Fetcher that resolves proxies from the environment.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    newProxyClient(),
		chunkSize: DefaultChunkSize,
		logger:    slog.Default().WithGroup("fetch.Fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// newProxyClient honors HTTP_PROXY, HTTPS_PROXY and NO_PROXY as read at
// construction time.
func newProxyClient() *http.Client {
	proxyFunc := httpproxy.FromEnvironment().ProxyFunc()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
	return &http.Client{Transport: transport}
}

// Fetch downloads asset.URL and unpacks it to asset.FinalPath, returning the
// final path. When FinalPath already exists no request is made. The
// transient archive and staging directory are removed on every exit path.
func (f *Fetcher) Fetch(ctx context.Context, asset Asset) (string, error) {
	logger := f.logger.With("url", asset.URL, "final_path", asset.FinalPath)

	if _, err := os.Stat(asset.FinalPath); err == nil {
		logger.Debug("Asset already present, skipping fetch")
		return asset.FinalPath, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", newError(ReasonFilesystem, asset.URL, err)
	}

	if f.guard != nil {
		if err := f.guard.Require(asset.ExtractRoot, f.required, f.buffer); err != nil {
			logger.Error("Not enough space for asset", "error", err)
			return "", newError(ReasonDiskSpace, asset.URL, err)
		}
	}

	if err := os.MkdirAll(asset.ExtractRoot, 0o755); err != nil {
		return "", newError(ReasonFilesystem, asset.URL, err)
	}

	archive := asset.archivePath()
	defer func() {
		if err := os.Remove(archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to remove transient archive", "path", archive, "error", err)
		}
	}()

	start := time.Now()
	if err := f.download(ctx, asset.URL, archive); err != nil {
		return "", err
	}
	logger.Info("Download complete", "duration", time.Since(start))

	if err := f.unpack(asset, archive); err != nil {
		return "", err
	}
	logger.Info("Asset ready")
	return asset.FinalPath, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return newError(ReasonNetwork, rawURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return newError(ReasonNetwork, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{
			Reason:     ReasonNetwork,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	out, err := os.Create(dest)
	if err != nil {
		return newError(ReasonFilesystem, rawURL, err)
	}

	total := resp.ContentLength
	written, copyErr := f.copyChunks(out, resp.Body, total)
	closeErr := out.Close()

	if copyErr != nil {
		return copyErr.withURL(rawURL)
	}
	if closeErr != nil {
		return newError(ReasonFilesystem, rawURL, closeErr)
	}
	if total > 0 && written < total {
		return newError(ReasonCorruptArchive, rawURL,
			fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, written, total))
	}
	return nil
}

// copyChunks streams src to dst in chunkSize reads, reporting after each write.
func (f *Fetcher) copyChunks(dst io.Writer, src io.Reader, total int64) (int64, *FetchError) {
	buf := make([]byte, f.chunkSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, &FetchError{Reason: ReasonFilesystem, Err: err}
			}
			written += int64(n)
			if f.progress != nil {
				f.progress(newProgress(written, total))
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if errors.Is(readErr, io.ErrUnexpectedEOF) {
				return written, &FetchError{
					Reason: ReasonCorruptArchive,
					Err:    fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, written, total),
				}
			}
			return written, &FetchError{Reason: ReasonNetwork, Err: readErr}
		}
	}
}

func (e *FetchError) withURL(u string) *FetchError {
	e.URL = u
	return e
}
