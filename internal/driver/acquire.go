package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/browsr/internal/config"
	"github.com/standardbeagle/browsr/internal/process"
)

// Record owns a driver or browser process launched for a session.
// A nil *Record is valid and stops nothing.
type Record struct {
	BinaryPath string
	Port       int

	proc    *process.ManagedProcess
	procs   *process.ProcessManager
	cleanup func()

	stopOnce sync.Once
	stopErr  error
}

// PID returns the launched process id, or 0.
func (r *Record) PID() int {
	if r == nil || r.proc == nil {
		return 0
	}
	return r.proc.PID()
}

// Stop kills the process and waits for it to exit. Only the first call
// does anything.
func (r *Record) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.stopOnce.Do(func() {
		if r.proc != nil {
			r.stopErr = r.procs.StopProcess(ctx, r.proc)
		}
		if r.cleanup != nil {
			r.cleanup()
		}
	})
	return r.stopErr
}

// Acquirer produces a reachable control endpoint: it locates or downloads
// binaries, launches them, and waits for their port.
type Acquirer struct {
	cfg      *config.Config
	locator  *Locator
	manifest *ManifestClient
	cache    *Cache
	procs    *process.ProcessManager
	log      logrus.FieldLogger
}

// NewAcquirer wires the acquisition pipeline for cfg.
func NewAcquirer(cfg *config.Config, procs *process.ProcessManager, log logrus.FieldLogger) (*Acquirer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	root, err := CacheRoot(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return &Acquirer{
		cfg:      cfg,
		locator:  NewLocator(log),
		manifest: NewManifestClient(),
		cache:    NewCache(root, log),
		procs:    procs,
		log:      log.WithField("component", "acquire"),
	}, nil
}

// Cache exposes the driver cache, e.g. to hook download metrics.
func (a *Acquirer) Cache() *Cache { return a.cache }

// Config returns the configuration the acquirer was built with.
func (a *Acquirer) Config() *config.Config { return a.cfg }

// Locator exposes the binary locator.
func (a *Acquirer) Locator() *Locator { return a.locator }

// ResolveDriver finds chromedriver locally and, if allowed, downloads a
// version-matched one when nothing is installed.
func (a *Acquirer) ResolveDriver(ctx context.Context) (string, error) {
	path, err := a.locator.FindDriver(a.cfg.DriverPath)
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, ErrBinaryNotFound) || !a.cfg.AutoDownloadDriver {
		return "", err
	}
	a.log.Info("chromedriver not installed, downloading")
	return a.InstallDriver(ctx)
}

// InstallDriver downloads (or reuses from cache) the chromedriver matching
// the installed browser's major version.
func (a *Acquirer) InstallDriver(ctx context.Context) (string, error) {
	platform, err := Platform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}

	major := 0
	if browser, err := a.locator.FindBrowser(a.cfg.BrowserPath); err != nil {
		a.log.WithError(err).Warn("browser not found, using latest stable chromedriver")
	} else if version, err := DetectBrowserVersion(ctx, browser); err != nil {
		a.log.WithError(err).Warn("browser version unknown, using latest stable chromedriver")
	} else {
		major, _ = MajorVersion(version)
		a.log.WithFields(logrus.Fields{
			"browser": browser,
			"version": version,
		}).Info("detected browser version")
	}

	rel, err := a.manifest.Resolve(ctx, major, platform)
	if err != nil {
		return "", err
	}
	if major > 0 && rel.Major() != major {
		a.log.WithFields(logrus.Fields{
			"browser_major": major,
			"driver":        rel.Version,
		}).Warn("no matching chromedriver, falling back to stable")
	}
	return a.cache.Ensure(ctx, rel)
}

// WebDriver returns the WebDriver server URL. When auto start is enabled and
// no external URL is configured, chromedriver is launched and its Record is
// returned; otherwise the Record is nil.
func (a *Acquirer) WebDriver(ctx context.Context) (string, *Record, error) {
	if a.cfg.WebDriverURL != "" || !a.cfg.AutoStart {
		return a.cfg.EffectiveWebDriverURL(), nil, nil
	}

	path, err := a.ResolveDriver(ctx)
	if err != nil {
		return "", nil, err
	}

	port := a.cfg.DriverPort
	proc, err := a.procs.Launch(ctx, process.ProcessConfig{
		ID:      "chromedriver",
		Command: path,
		Args:    []string{"--port=" + strconv.Itoa(port)},
		Port:    port,
	})
	if err != nil {
		return "", nil, err
	}

	rec := &Record{BinaryPath: path, Port: port, proc: proc, procs: a.procs}
	return fmt.Sprintf("http://localhost:%d", port), rec, nil
}

// DevTools returns the browser websocket URL for CDP. With auto start the
// browser is launched with a throwaway profile; otherwise cdp_url or the
// local CDP port must already be serving.
func (a *Acquirer) DevTools(ctx context.Context) (string, *Record, error) {
	if a.cfg.CDPURL != "" {
		ws, err := DebuggerURL(ctx, a.cfg.CDPURL)
		return ws, nil, err
	}
	local := fmt.Sprintf("http://127.0.0.1:%d", a.cfg.CDPPort)
	if !a.cfg.AutoStart {
		ws, err := DebuggerURL(ctx, local)
		return ws, nil, err
	}

	browser, err := a.locator.FindBrowser(a.cfg.BrowserPath)
	if err != nil {
		return "", nil, err
	}

	profile, err := os.MkdirTemp("", "browsr-profile-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create browser profile: %w", err)
	}
	cleanup := func() { os.RemoveAll(profile) }

	proc, err := a.procs.Launch(ctx, process.ProcessConfig{
		ID:      "chrome",
		Command: browser,
		Args:    DevToolsArgs(a.cfg, profile),
		Port:    a.cfg.CDPPort,
	})
	if err != nil {
		cleanup()
		return "", nil, err
	}

	rec := &Record{BinaryPath: browser, Port: a.cfg.CDPPort, proc: proc, procs: a.procs, cleanup: cleanup}
	ws, err := DebuggerURL(ctx, local)
	if err != nil {
		if stopErr := rec.Stop(context.Background()); stopErr != nil {
			a.log.WithError(stopErr).Warn("failed to stop browser")
		}
		return "", nil, err
	}
	return ws, rec, nil
}
