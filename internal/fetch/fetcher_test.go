package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/atlanticdynamic/envbridge/internal/diskspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarGzArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

type archiveServer struct {
	*httptest.Server
	requests atomic.Int32
}

func serveBytes(t *testing.T, body []byte, declareLength bool) *archiveServer {
	t.Helper()
	s := &archiveServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if declareLength {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
		_, _ = w.Write(body)
		if !declareLength {
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func testAsset(t *testing.T, url string) Asset {
	t.Helper()
	root := filepath.Join(t.TempDir(), "assets")
	return Asset{
		URL:         url,
		ExtractRoot: root,
		FinalPath:   filepath.Join(root, "stable-diffusion-v1-4"),
	}
}

func assertClean(t *testing.T, asset Asset) {
	t.Helper()
	_, err := os.Stat(asset.archivePath())
	assert.True(t, os.IsNotExist(err), "transient archive should be removed")
	matches, err := filepath.Glob(filepath.Join(asset.ExtractRoot, ".staging-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "staging directories should be removed")
}

func TestFetch_Zip(t *testing.T) {
	t.Parallel()
	body := zipArchive(t, map[string]string{
		"stable-diffusion-v1-4/model_index.json":      `{"_class_name":"StableDiffusionPipeline"}`,
		"stable-diffusion-v1-4/unet/diffusion.bin":    "weights",
		"stable-diffusion-v1-4/scheduler/config.json": "{}",
	})
	srv := serveBytes(t, body, true)
	asset := testAsset(t, srv.URL+"/stable-diffusion-v1-4.zip")

	var mu sync.Mutex
	var updates []Progress
	f := New(WithChunkSize(64), WithProgress(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	}))

	got, err := f.Fetch(t.Context(), asset)
	require.NoError(t, err)
	assert.Equal(t, asset.FinalPath, got)

	content, err := os.ReadFile(filepath.Join(got, "unet", "diffusion.bin"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(content))
	assertClean(t, asset)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, int64(len(body)), last.Downloaded)
	assert.Equal(t, int64(len(body)), last.Total)
	assert.InDelta(t, 1.0, last.Fraction, 1e-9)
	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Downloaded, updates[i-1].Downloaded)
		assert.LessOrEqual(t, updates[i].Downloaded-updates[i-1].Downloaded, int64(64))
	}
}

func TestFetch_TarGz(t *testing.T) {
	t.Parallel()
	body := tarGzArchive(t, map[string]string{"model/weights.bin": "abc"})
	srv := serveBytes(t, body, true)
	asset := testAsset(t, srv.URL+"/model.tar.gz")

	got, err := New().Fetch(t.Context(), asset)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(got, "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))
}

func TestFetch_SkipsWhenPresent(t *testing.T) {
	t.Parallel()
	srv := serveBytes(t, zipArchive(t, map[string]string{"m/a": "a"}), true)
	asset := testAsset(t, srv.URL+"/m.zip")
	require.NoError(t, os.MkdirAll(asset.FinalPath, 0o755))

	got, err := New().Fetch(t.Context(), asset)
	require.NoError(t, err)
	assert.Equal(t, asset.FinalPath, got)
	assert.Equal(t, int32(0), srv.requests.Load())
}

func TestFetch_UnknownLength(t *testing.T) {
	t.Parallel()
	srv := serveBytes(t, zipArchive(t, map[string]string{"m/a": "a"}), false)
	asset := testAsset(t, srv.URL+"/m.zip")

	var sawUnknown atomic.Bool
	_, err := New(WithProgress(func(p Progress) {
		if p.Unknown() {
			sawUnknown.Store(true)
			assert.Equal(t, float64(-1), p.Fraction)
		}
	})).Fetch(t.Context(), asset)
	require.NoError(t, err)
	assert.True(t, sawUnknown.Load())
}

func TestFetch_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	asset := testAsset(t, srv.URL+"/m.zip")

	_, err := New().Fetch(t.Context(), asset)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, ReasonNetwork, fetchErr.Reason)
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
	require.ErrorIs(t, err, ErrFetchFailed)
	assertClean(t, asset)
	_, statErr := os.Stat(asset.FinalPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_ShortBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write([]byte("PK\x03\x04 truncated"))
	}))
	t.Cleanup(srv.Close)
	asset := testAsset(t, srv.URL+"/m.zip")

	_, err := New().Fetch(t.Context(), asset)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, ReasonCorruptArchive, fetchErr.Reason)
	require.ErrorIs(t, err, ErrShortBody)
	assertClean(t, asset)
}

func TestFetch_CorruptArchives(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    func(t *testing.T) []byte
		wantErr error
	}{
		{
			name:    "not an archive",
			body:    func(*testing.T) []byte { return []byte("<html>error page</html>") },
			wantErr: ErrUnsupportedType,
		},
		{
			name: "two top-level directories",
			body: func(t *testing.T) []byte {
				return zipArchive(t, map[string]string{"a/x": "1", "b/y": "2"})
			},
			wantErr: ErrLayout,
		},
		{
			name: "loose file",
			body: func(t *testing.T) []byte {
				return zipArchive(t, map[string]string{"weights.bin": "1"})
			},
			wantErr: ErrLayout,
		},
		{
			name: "path traversal",
			body: func(t *testing.T) []byte {
				return zipArchive(t, map[string]string{"model/../../evil": "1"})
			},
			wantErr: ErrUnsafeEntry,
		},
		{
			name: "truncated zip",
			body: func(*testing.T) []byte { return []byte("PK\x03\x04garbage") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveBytes(t, tt.body(t), true)
			asset := testAsset(t, srv.URL+"/m.zip")

			_, err := New().Fetch(t.Context(), asset)
			var fetchErr *FetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, ReasonCorruptArchive, fetchErr.Reason)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			assertClean(t, asset)
			_, statErr := os.Stat(asset.FinalPath)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestFetch_IgnoresMacMetadata(t *testing.T) {
	t.Parallel()
	body := zipArchive(t, map[string]string{"model/a": "1", "__MACOSX/model/._a": "meta"})
	srv := serveBytes(t, body, true)
	asset := testAsset(t, srv.URL+"/m.zip")

	_, err := New().Fetch(t.Context(), asset)
	require.NoError(t, err)
}

func TestFetch_InsufficientSpace(t *testing.T) {
	t.Parallel()
	srv := serveBytes(t, zipArchive(t, map[string]string{"m/a": "a"}), true)
	asset := testAsset(t, srv.URL+"/m.zip")
	guard := diskspace.New(diskspace.WithProbe(func(string) (uint64, error) { return 100, nil }))

	_, err := New(WithSpaceCheck(guard, 100, 1)).Fetch(t.Context(), asset)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, ReasonDiskSpace, fetchErr.Reason)
	require.ErrorIs(t, err, diskspace.ErrInsufficientSpace)
	assert.Equal(t, int32(0), srv.requests.Load(), "space is checked before the request")
}

func TestFetch_ExactSpaceIsEnough(t *testing.T) {
	t.Parallel()
	srv := serveBytes(t, zipArchive(t, map[string]string{"m/a": "a"}), true)
	asset := testAsset(t, srv.URL+"/m.zip")
	guard := diskspace.New(diskspace.WithProbe(func(string) (uint64, error) { return 101, nil }))

	_, err := New(WithSpaceCheck(guard, 100, 1)).Fetch(t.Context(), asset)
	require.NoError(t, err)
}

func TestFetch_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New().Fetch(t.Context(), testAsset(t, url+"/m.zip"))
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, ReasonNetwork, fetchErr.Reason)
	assert.False(t, errors.Is(err, ErrShortBody))
}

func TestArchiveName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stable-diffusion-v1-4.zip",
		archiveName("https://bucket.s3.amazonaws.com/stable-diffusion-v1-4.zip?sig=abc"))
	assert.Equal(t, "asset", archiveName("https://example.com/"))
	assert.Equal(t, "asset", archiveName("::bad"))
}
