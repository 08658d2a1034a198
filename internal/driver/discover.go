package driver

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Executable names searched on PATH, per OS.
var browserNames = map[string][]string{
	"linux":   {"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"},
	"darwin":  {"Google Chrome", "Chromium", "chromium"},
	"windows": {"chrome.exe"},
}

var browserDirs = map[string][]string{
	"linux": {
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
		"/opt/google/chrome/chrome",
	},
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
		"/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

var driverDirs = map[string][]string{
	"linux": {
		"/usr/bin/chromedriver",
		"/usr/local/bin/chromedriver",
		"/snap/bin/chromedriver",
		"/opt/chromedriver/chromedriver",
	},
	"darwin": {
		"/usr/local/bin/chromedriver",
		"/opt/homebrew/bin/chromedriver",
		"/usr/bin/chromedriver",
	},
	"windows": {
		`C:\chromedriver\chromedriver.exe`,
		`C:\Program Files\chromedriver\chromedriver.exe`,
		`C:\webdrivers\chromedriver.exe`,
	},
}

// DriverExecutable returns the chromedriver file name for goos.
func DriverExecutable(goos string) string {
	if goos == "windows" {
		return "chromedriver.exe"
	}
	return "chromedriver"
}

// Locator finds browser and driver executables on the local machine.
// The function fields default to the real OS and exist so tests can
// describe a machine without touching it.
type Locator struct {
	GOOS     string
	LookPath func(string) (string, error)
	Exists   func(string) bool
	Getenv   func(string) string

	log logrus.FieldLogger
}

// NewLocator returns a Locator for the running OS.
func NewLocator(log logrus.FieldLogger) *Locator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Locator{
		GOOS:     runtime.GOOS,
		LookPath: exec.LookPath,
		Exists:   isFile,
		Getenv:   os.Getenv,
		log:      log.WithField("component", "driver"),
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// FindBrowser resolves the Chrome executable: configured path, then PATH,
// then the usual install locations.
func (l *Locator) FindBrowser(configured string) (string, error) {
	dirs := append([]string(nil), browserDirs[l.GOOS]...)
	if l.GOOS == "windows" {
		if local := l.Getenv("LOCALAPPDATA"); local != "" {
			dirs = append(dirs, local+`\Google\Chrome\Application\chrome.exe`)
		}
	}
	return l.find("browser", configured, browserNames[l.GOOS], dirs)
}

// FindDriver resolves the chromedriver executable the same way.
func (l *Locator) FindDriver(configured string) (string, error) {
	dirs := append([]string(nil), driverDirs[l.GOOS]...)
	if l.GOOS == "windows" {
		if local := l.Getenv("LOCALAPPDATA"); local != "" {
			dirs = append(dirs, local+`\chromedriver\chromedriver.exe`)
		}
	}
	return l.find("driver", configured, []string{DriverExecutable(l.GOOS)}, dirs)
}

func (l *Locator) find(kind, configured string, names, dirs []string) (string, error) {
	if configured != "" {
		if l.Exists(configured) {
			l.log.WithField("path", configured).Debugf("using configured %s", kind)
			return configured, nil
		}
		l.log.WithField("path", configured).Warnf("configured %s does not exist, searching elsewhere", kind)
	}

	for _, name := range names {
		if path, err := l.LookPath(name); err == nil {
			l.log.WithField("path", path).Debugf("found %s on PATH", kind)
			return path, nil
		}
	}

	for _, path := range dirs {
		if l.Exists(path) {
			l.log.WithField("path", path).Debugf("found %s in install directory", kind)
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: no %s found on PATH or in common locations (searched %v)", ErrBinaryNotFound, kind, names)
}
