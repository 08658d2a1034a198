package driver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractExecutable(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
		want    string
		wantErr error
	}{
		{
			name:    "flat archive",
			entries: map[string]string{"chromedriver": "flat"},
			want:    "flat",
		},
		{
			name: "nested archive",
			entries: map[string]string{
				"chromedriver-linux64/LICENSE.chromedriver": "license",
				"chromedriver-linux64/chromedriver":         "nested",
			},
			want: "nested",
		},
		{
			name:    "missing executable",
			entries: map[string]string{"chromedriver-linux64/README": "nope"},
			wantErr: ErrBinaryNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/dl/archive.zip", buildZip(t, tt.entries), 0o644))
			require.NoError(t, fs.MkdirAll("/cache/120.0.1", 0o755))

			dest := "/cache/120.0.1/chromedriver"
			err := ExtractExecutable(fs, "/dl/archive.zip", "chromedriver", dest)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				exists, _ := afero.Exists(fs, dest)
				assert.False(t, exists)
				return
			}
			require.NoError(t, err)

			got, err := afero.ReadFile(fs, dest)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))

			// Only the final file remains in the version directory.
			entries, err := afero.ReadDir(fs, "/cache/120.0.1")
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func newArchiveServer(t *testing.T, archive []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// Hold the response so concurrent callers overlap on the lock.
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/zip")
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := NewCache(filepath.Join(t.TempDir(), "browsr", "drivers"), quietLogger())
	c.Executable = "chromedriver"
	return c
}

func TestCache_EnsureConcurrent(t *testing.T) {
	archive := buildZip(t, map[string]string{"chromedriver-linux64/chromedriver": "#!/bin/sh\n"})
	srv, hits := newArchiveServer(t, archive)

	cache := newTestCache(t)
	var downloads atomic.Int32
	cache.OnDownload = func(string) { downloads.Add(1) }

	rel := &Release{Version: "120.0.6099.109", URL: srv.URL + "/chromedriver-linux64.zip"}

	const callers = 2
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = cache.Ensure(context.Background(), rel)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, cache.BinaryPath(rel.Version), paths[i])
	}
	assert.Equal(t, int32(1), hits.Load(), "archive should be downloaded exactly once")
	assert.Equal(t, int32(1), downloads.Load())

	info, err := os.Stat(paths[0])
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}

	_, err = os.Stat(cache.lockPath(rel.Version))
	assert.True(t, os.IsNotExist(err), "lock file should be removed, stat err = %v", err)

	// Temporary archives are cleaned up.
	entries, err := os.ReadDir(filepath.Dir(paths[0]))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCache_EnsureUsesCache(t *testing.T) {
	srv, hits := newArchiveServer(t, buildZip(t, map[string]string{"chromedriver": "x"}))
	cache := newTestCache(t)
	rel := &Release{Version: "121.0.1", URL: srv.URL}

	first, err := cache.Ensure(context.Background(), rel)
	require.NoError(t, err)
	second, err := cache.Ensure(context.Background(), rel)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())

	p, ok := cache.Cached("121.0.1")
	assert.True(t, ok)
	assert.Equal(t, first, p)
}

func TestCache_EnsureFailureRemovesLock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := newTestCache(t)
	rel := &Release{Version: "122.0.1", URL: srv.URL + "/missing.zip"}

	_, err := cache.Ensure(context.Background(), rel)
	require.Error(t, err)

	_, ok := cache.Cached(rel.Version)
	assert.False(t, ok)
	_, statErr := os.Stat(cache.lockPath(rel.Version))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCacheRoot(t *testing.T) {
	root, err := CacheRoot("/var/cache/custom")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/cache/custom", "browsr", "drivers"), root)
}
