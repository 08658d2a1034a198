package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// CacheRoot returns <dir>/browsr/drivers, where dir is configured or the
// user cache directory.
func CacheRoot(configured string) (string, error) {
	dir := configured
	if dir == "" {
		var err error
		dir, err = os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate cache directory: %w", err)
		}
	}
	return filepath.Join(dir, "browsr", "drivers"), nil
}

// Cache stores downloaded drivers under Root/<version>/.
type Cache struct {
	Root       string
	Executable string

	// OnDownload is called after each completed download.
	OnDownload func(version string)

	fs         afero.Fs
	httpClient *http.Client
	log        logrus.FieldLogger
}

// NewCache creates a cache rooted at root on the OS filesystem.
func NewCache(root string, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		Root:       root,
		Executable: DriverExecutable(runtime.GOOS),
		fs:         afero.NewOsFs(),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        log.WithField("component", "driver-cache"),
	}
}

// BinaryPath is where the driver for version lives once cached.
func (c *Cache) BinaryPath(version string) string {
	return filepath.Join(c.Root, version, c.Executable)
}

func (c *Cache) lockPath(version string) string {
	return filepath.Join(c.Root, version+".lock")
}

// Cached reports whether version is already present.
func (c *Cache) Cached(version string) (string, bool) {
	p := c.BinaryPath(version)
	info, err := c.fs.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}

// Ensure returns the cached binary for rel, downloading and extracting it
// first if needed. Concurrent callers (in this or other processes) for the
// same version serialize on a lock file; only the first one downloads.
func (c *Cache) Ensure(ctx context.Context, rel *Release) (string, error) {
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache root: %w", err)
	}

	lockPath := c.lockPath(rel.Version)
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open lock file: %w", err)
	}
	defer func() {
		_ = unlockFile(lock)
		lock.Close()
		if rmErr := os.Remove(lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			c.log.WithError(rmErr).Warn("failed to remove lock file")
		}
	}()

	if err := lockFile(lock); err != nil {
		return "", fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}

	// Another holder of the lock may have finished the download.
	if p, ok := c.Cached(rel.Version); ok {
		c.log.WithField("version", rel.Version).Debug("driver already cached")
		return p, nil
	}

	versionDir := filepath.Join(c.Root, rel.Version)
	if err := c.fs.MkdirAll(versionDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", versionDir, err)
	}

	c.log.WithFields(logrus.Fields{
		"version": rel.Version,
		"url":     rel.URL,
	}).Info("downloading chromedriver")

	archive, err := c.download(ctx, rel.URL, versionDir)
	if err != nil {
		return "", err
	}
	defer c.fs.Remove(archive)

	dest := c.BinaryPath(rel.Version)
	if err := ExtractExecutable(c.fs, archive, c.Executable, dest); err != nil {
		return "", err
	}

	if c.OnDownload != nil {
		c.OnDownload(rel.Version)
	}
	c.log.WithField("path", dest).Info("chromedriver cached")
	return dest, nil
}

func (c *Cache) download(ctx context.Context, url, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "browsr-driver")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s returned status %d", url, resp.StatusCode)
	}

	f, err := afero.TempFile(c.fs, dir, "chromedriver-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		c.fs.Remove(f.Name())
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	if err := f.Close(); err != nil {
		c.fs.Remove(f.Name())
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return f.Name(), nil
}

// ExtractExecutable copies the zip entry whose base name is name to dest,
// at any depth in the archive. The file is written beside dest and renamed
// into place, then made executable.
func ExtractExecutable(fs afero.Fs, archivePath, name, dest string) error {
	f, err := fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || path.Base(entry.Name) != name {
			continue
		}
		return writeEntry(fs, entry, dest)
	}
	return fmt.Errorf("%w: %s not found in archive", ErrBinaryNotFound, name)
}

func writeEntry(fs afero.Fs, entry *zip.File, dest string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", entry.Name, err)
	}
	defer src.Close()

	tmp, err := afero.TempFile(fs, filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	if err := fs.Chmod(tmpName, 0o755); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := fs.Rename(tmpName, dest); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return nil
}
