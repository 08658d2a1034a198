package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/selenium"

	"github.com/standardbeagle/browsr/internal/config"
	"github.com/standardbeagle/browsr/internal/driver"
)

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake")

// fakeWebDriver is an in-memory browser with a list of windows.
type fakeWebDriver struct {
	handles []string
	current string
	urls    map[string]string
	titles  map[string]string

	scripts         []string
	sentKeys        []string
	history         []string
	readyState      string
	getErr          error
	titleErr        error
	screenshotFails int
	screenshotCalls int
	resized         [2]int
	quits           int
	nextHandle      int
}

func newFakeWebDriver() *fakeWebDriver {
	return &fakeWebDriver{
		handles: []string{"main"},
		current: "main",
		urls:    map[string]string{"main": "about:blank"},
		titles:  map[string]string{},
	}
}

func (f *fakeWebDriver) Get(url string) error {
	if f.getErr != nil {
		return f.getErr
	}
	f.urls[f.current] = url
	return nil
}

func (f *fakeWebDriver) CurrentURL() (string, error) { return f.urls[f.current], nil }

func (f *fakeWebDriver) Title() (string, error) {
	if f.titleErr != nil {
		return "", f.titleErr
	}
	if t, ok := f.titles[f.current]; ok {
		return t, nil
	}
	return "Title of " + f.urls[f.current], nil
}

func (f *fakeWebDriver) Back() error {
	f.history = append(f.history, "back")
	return nil
}

func (f *fakeWebDriver) Forward() error {
	f.history = append(f.history, "forward")
	return nil
}

func (f *fakeWebDriver) ExecuteScript(script string, _ []interface{}) (interface{}, error) {
	switch script {
	case readyStateScript:
		if f.readyState != "" {
			return f.readyState, nil
		}
		return "complete", nil
	case newTabScript:
		f.nextHandle++
		h := fmt.Sprintf("tab-%d", f.nextHandle)
		f.handles = append(f.handles, h)
		f.urls[h] = "about:blank"
	}
	f.scripts = append(f.scripts, script)
	return true, nil
}

func (f *fakeWebDriver) Screenshot() ([]byte, error) {
	f.screenshotCalls++
	if f.screenshotCalls <= f.screenshotFails {
		return nil, errors.New("unknown error: cannot take screenshot")
	}
	return fakePNG, nil
}

func (f *fakeWebDriver) WindowHandles() ([]string, error) {
	return append([]string(nil), f.handles...), nil
}

func (f *fakeWebDriver) CurrentWindowHandle() (string, error) { return f.current, nil }

func (f *fakeWebDriver) SwitchWindow(name string) error {
	for _, h := range f.handles {
		if h == name {
			f.current = name
			return nil
		}
	}
	return fmt.Errorf("no such window: %s", name)
}

func (f *fakeWebDriver) CloseWindow(name string) error {
	for i, h := range f.handles {
		if h == name {
			f.handles = append(f.handles[:i], f.handles[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no such window: %s", name)
}

func (f *fakeWebDriver) ResizeWindow(_ string, width, height int) error {
	f.resized = [2]int{width, height}
	return nil
}

func (f *fakeWebDriver) ActiveElement() (selenium.WebElement, error) {
	return &fakeElement{wd: f}, nil
}

func (f *fakeWebDriver) Quit() error {
	f.quits++
	return nil
}

func (f *fakeWebDriver) lastScript() string {
	if len(f.scripts) == 0 {
		return ""
	}
	return f.scripts[len(f.scripts)-1]
}

func (f *fakeWebDriver) ranScript(fragment string) bool {
	for _, s := range f.scripts {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}

type fakeElement struct {
	selenium.WebElement
	wd *fakeWebDriver
}

func (e *fakeElement) SendKeys(keys string) error {
	e.wd.sentKeys = append(e.wd.sentKeys, keys)
	return nil
}

type fakeAcquirer struct {
	url   string
	err   error
	calls int
}

func (a *fakeAcquirer) WebDriver(context.Context) (string, *driver.Record, error) {
	a.calls++
	return a.url, nil, a.err
}

func (a *fakeAcquirer) DevTools(context.Context) (string, *driver.Record, error) {
	a.calls++
	return a.url, nil, a.err
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastTiming() Timing {
	return Timing{ScreenshotTries: 3}
}

// newTestWebDriver returns a backend wired to an in-memory browser.
func newTestWebDriver(cfg *config.Config) (*WebDriverBackend, *fakeWebDriver, *fakeAcquirer) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	fake := newFakeWebDriver()
	acq := &fakeAcquirer{url: "http://localhost:9515"}
	b := NewWebDriver(cfg, acq, quietLogger())
	b.timing = fastTiming()
	b.dial = func(selenium.Capabilities, string) (webDriver, error) { return fake, nil }
	return b, fake, acq
}
