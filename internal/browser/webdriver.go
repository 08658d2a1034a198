package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"github.com/standardbeagle/browsr/internal/config"
	"github.com/standardbeagle/browsr/internal/driver"
)

// webDriver is the subset of selenium.WebDriver the backend uses.
type webDriver interface {
	Get(url string) error
	CurrentURL() (string, error)
	Title() (string, error)
	Back() error
	Forward() error
	ExecuteScript(script string, args []interface{}) (interface{}, error)
	Screenshot() ([]byte, error)
	WindowHandles() ([]string, error)
	CurrentWindowHandle() (string, error)
	SwitchWindow(name string) error
	CloseWindow(name string) error
	ResizeWindow(name string, width, height int) error
	ActiveElement() (selenium.WebElement, error)
	Quit() error
}

type dialFunc func(caps selenium.Capabilities, url string) (webDriver, error)

func dialRemote(caps selenium.Capabilities, url string) (webDriver, error) {
	wd, err := selenium.NewRemote(caps, url)
	if err != nil {
		return nil, err
	}
	return wd, nil
}

// WebDriverBackend drives Chrome through a chromedriver (or Selenium) server.
type WebDriverBackend struct {
	base
	dial dialFunc
	wd   webDriver
}

// NewWebDriver creates a closed WebDriver backend.
func NewWebDriver(cfg *config.Config, acq Acquirer, log logrus.FieldLogger) *WebDriverBackend {
	return &WebDriverBackend{
		base: newBase(cfg, acq, log, "webdriver"),
		dial: dialRemote,
	}
}

func (b *WebDriverBackend) capabilities() selenium.Capabilities {
	caps := selenium.Capabilities{"browserName": "chrome"}
	chromeCaps := chrome.Capabilities{
		Path: b.cfg.BrowserPath,
		Args: driver.ChromeArgs(b.cfg),
		W3C:  true,
	}
	if b.cfg.Undetected {
		chromeCaps.ExcludeSwitches = []string{"enable-automation"}
	}
	caps.AddChrome(chromeCaps)
	return caps
}

// IsOpen reports whether a WebDriver session exists.
func (b *WebDriverBackend) IsOpen() bool { return b.wd != nil }

// Open acquires the driver, starts a browser session and loads the initial URL.
func (b *WebDriverBackend) Open(ctx context.Context) (*Observation, error) {
	const op = "open_web_browser"
	if b.wd != nil {
		return b.observe(ctx, op, b.timing.Settle)
	}

	url, rec, err := b.acq.WebDriver(ctx)
	if err != nil {
		return nil, err
	}
	b.rec = rec

	wd, err := b.dial(b.capabilities(), url)
	if err != nil {
		_ = b.stopRecord(context.Background())
		return nil, protocolFailure(op, fmt.Errorf("failed to create session at %s: %w", url, err))
	}
	b.wd = wd

	if err := wd.ResizeWindow("", b.cfg.ScreenWidth, b.cfg.ScreenHeight); err != nil {
		b.log.WithError(err).Warn("failed to resize window")
	}
	if err := wd.Get(b.cfg.InitialURL); err != nil {
		_ = b.Close(context.Background())
		return nil, protocolFailure(op, fmt.Errorf("failed to load %s: %w", b.cfg.InitialURL, err))
	}

	b.log.WithField("url", url).Info("browser opened")
	return b.observe(ctx, op, b.timing.Settle)
}

// Close quits the session and stops any launched driver. Closing a closed
// backend does nothing.
func (b *WebDriverBackend) Close(ctx context.Context) error {
	var errs []error
	if b.wd != nil {
		if err := b.wd.Quit(); err != nil {
			b.log.WithError(err).Warn("failed to quit WebDriver session")
			errs = append(errs, err)
		}
		b.wd = nil
		b.log.Info("browser closed")
	}
	if err := b.stopRecord(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *WebDriverBackend) session(op string) (webDriver, error) {
	if b.wd == nil {
		return nil, notOpen(op)
	}
	return b.wd, nil
}

func (b *WebDriverBackend) readyState(context.Context) (string, error) {
	v, err := b.wd.ExecuteScript(readyStateScript, nil)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// observe waits for readiness, settles, then captures the page.
func (b *WebDriverBackend) observe(ctx context.Context, op string, settle time.Duration) (*Observation, error) {
	wd, err := b.session(op)
	if err != nil {
		return nil, err
	}
	b.waitReady(ctx, b.readyState)
	if err := sleep(ctx, settle); err != nil {
		return nil, err
	}

	png, err := b.screenshot(ctx, wd)
	if err != nil {
		return nil, protocolFailure(op, err)
	}
	url, err := wd.CurrentURL()
	if err != nil {
		return nil, protocolFailure(op, err)
	}
	return &Observation{Screenshot: png, URL: url}, nil
}

// screenshot retries transient failures, which chromedriver produces
// while a navigation is in flight.
func (b *WebDriverBackend) screenshot(ctx context.Context, wd webDriver) ([]byte, error) {
	backoff := b.timing.ScreenshotBackoff
	var lastErr error
	for attempt := 1; attempt <= b.timing.ScreenshotTries; attempt++ {
		png, err := wd.Screenshot()
		if err == nil {
			return png, nil
		}
		lastErr = err
		if attempt == b.timing.ScreenshotTries {
			break
		}
		b.log.WithError(err).WithField("attempt", attempt).Debug("screenshot failed, retrying")
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("screenshot failed after %d attempts: %w", b.timing.ScreenshotTries, lastErr)
}

func (b *WebDriverBackend) exec(op, script string) error {
	wd, err := b.session(op)
	if err != nil {
		return err
	}
	if _, err := wd.ExecuteScript(script, nil); err != nil {
		return protocolFailure(op, err)
	}
	return nil
}

func (b *WebDriverBackend) highlight(x, y int) {
	if !b.cfg.HighlightMouse || b.wd == nil {
		return
	}
	if _, err := b.wd.ExecuteScript(highlightScript(x, y), nil); err != nil {
		b.log.WithError(err).Debug("highlight failed")
	}
}

// pointAction validates (x, y), highlights it, runs script and observes.
func (b *WebDriverBackend) pointAction(ctx context.Context, op string, x, y int, script string) (*Observation, error) {
	if err := b.checkPoint(op, x, y); err != nil {
		return nil, err
	}
	if _, err := b.session(op); err != nil {
		return nil, err
	}
	b.highlight(x, y)
	if err := b.exec(op, script); err != nil {
		return nil, err
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *WebDriverBackend) CurrentState(ctx context.Context) (*Observation, error) {
	return b.observe(ctx, "current_state", b.timing.Settle)
}

func (b *WebDriverBackend) ClickAt(ctx context.Context, x, y int) (*Observation, error) {
	return b.pointAction(ctx, "click_at", x, y, clickScript(x, y))
}

func (b *WebDriverBackend) HoverAt(ctx context.Context, x, y int) (*Observation, error) {
	return b.pointAction(ctx, "hover_at", x, y, hoverScript(x, y))
}

func (b *WebDriverBackend) TypeTextAt(ctx context.Context, x, y int, text string, pressEnter, clearBeforeTyping bool) (*Observation, error) {
	const op = "type_text_at"
	if err := b.checkPoint(op, x, y); err != nil {
		return nil, err
	}
	wd, err := b.session(op)
	if err != nil {
		return nil, err
	}
	b.highlight(x, y)

	if err := b.exec(op, focusScript(x, y)); err != nil {
		return nil, err
	}
	if err := sleep(ctx, b.timing.TypeDelay); err != nil {
		return nil, err
	}
	if clearBeforeTyping {
		if err := b.exec(op, clearScript); err != nil {
			return nil, err
		}
	}
	if err := b.exec(op, insertTextScript(text)); err != nil {
		return nil, err
	}
	if pressEnter {
		el, err := wd.ActiveElement()
		if err != nil {
			return nil, protocolFailure(op, err)
		}
		if err := el.SendKeys(selenium.EnterKey); err != nil {
			return nil, protocolFailure(op, err)
		}
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *WebDriverBackend) ScrollDocument(ctx context.Context, direction string) (*Observation, error) {
	const op = "scroll_document"
	d, err := ParseDirection(op, direction)
	if err != nil {
		return nil, err
	}
	if err := b.exec(op, scrollDocumentScript(d)); err != nil {
		return nil, err
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *WebDriverBackend) ScrollAt(ctx context.Context, x, y int, direction string, magnitude int) (*Observation, error) {
	const op = "scroll_at"
	d, err := ParseDirection(op, direction)
	if err != nil {
		return nil, err
	}
	dx, dy := d.Delta(magnitude)
	return b.pointAction(ctx, op, x, y, scrollAtScript(x, y, dx, dy))
}

func (b *WebDriverBackend) Wait5Seconds(ctx context.Context) (*Observation, error) {
	const op = "wait_5_seconds"
	if _, err := b.session(op); err != nil {
		return nil, err
	}
	if err := sleep(ctx, b.timing.Wait); err != nil {
		return nil, err
	}
	return b.observe(ctx, op, 0)
}

func (b *WebDriverBackend) GoBack(ctx context.Context) (*Observation, error) {
	const op = "go_back"
	wd, err := b.session(op)
	if err != nil {
		return nil, err
	}
	if err := wd.Back(); err != nil {
		return nil, protocolFailure(op, err)
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *WebDriverBackend) GoForward(ctx context.Context) (*Observation, error) {
	const op = "go_forward"
	wd, err := b.session(op)
	if err != nil {
		return nil, err
	}
	if err := wd.Forward(); err != nil {
		return nil, protocolFailure(op, err)
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *WebDriverBackend) Search(ctx context.Context) (*Observation, error) {
	return b.navigate(ctx, "search", b.cfg.SearchEngineURL)
}

func (b *WebDriverBackend) Navigate(ctx context.Context, url string) (*Observation, error) {
	return b.navigate(ctx, "navigate", url)
}

func (b *WebDriverBackend) navigate(ctx context.Context, op, raw string) (*Observation, error) {
	url, err := NormalizeURL(op, raw)
	if err != nil {
		return nil, err
	}
	wd, err := b.session(op)
	if err != nil {
		return nil, err
	}
	if err := wd.Get(url); err != nil {
		return nil, protocolFailure(op, err)
	}
	return b.observe(ctx, op, b.timing.Settle)
}

// KeyCombination sends a single key natively. Several keys become one
// synthesized keydown carrying the modifier flags and the first
// non-modifier key; modifiers alone dispatch nothing.
func (b *WebDriverBackend) KeyCombination(ctx context.Context, keys []string) (*Observation, error) {
	const op = "key_combination"
	defs, err := resolveKeys(op, keys)
	if err != nil {
		return nil, err
	}
	wd, err := b.session(op)
	if err != nil {
		return nil, err
	}

	if len(defs) == 1 {
		el, err := wd.ActiveElement()
		if err != nil {
			return nil, protocolFailure(op, err)
		}
		if err := el.SendKeys(defs[0].native); err != nil {
			return nil, protocolFailure(op, err)
		}
		return b.observe(ctx, op, b.timing.Settle)
	}

	var ctrl, shift, alt, meta bool
	var main *keyDef
	for i := range defs {
		switch defs[i].key {
		case "Control":
			ctrl = true
		case "Shift":
			shift = true
		case "Alt":
			alt = true
		case "Meta":
			meta = true
		default:
			if main == nil {
				main = &defs[i]
			}
		}
	}
	if main != nil {
		if err := b.exec(op, keydownScript(main.key, ctrl, shift, alt, meta)); err != nil {
			return nil, err
		}
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *WebDriverBackend) DragAndDrop(ctx context.Context, x, y, destX, destY int) (*Observation, error) {
	const op = "drag_and_drop"
	if err := b.checkPoint(op, destX, destY); err != nil {
		return nil, err
	}
	return b.pointAction(ctx, op, x, y, dragScript(x, y, destX, destY))
}

// NewTab opens a window, switches to it and optionally loads url. A failed
// load is reported in the TabInfo rather than as an error.
func (b *WebDriverBackend) NewTab(ctx context.Context, url string) (*Observation, *TabInfo, error) {
	const op = "new_tab"
	wd, err := b.session(op)
	if err != nil {
		return nil, nil, err
	}

	target := ""
	if url != "" {
		if target, err = NormalizeURL(op, url); err != nil {
			return nil, nil, err
		}
	}

	before, err := wd.WindowHandles()
	if err != nil {
		return nil, nil, protocolFailure(op, err)
	}
	if err := b.exec(op, newTabScript); err != nil {
		return nil, nil, err
	}
	after, err := wd.WindowHandles()
	if err != nil {
		return nil, nil, protocolFailure(op, err)
	}

	handle := newHandle(before, after)
	if handle == "" {
		return nil, nil, protocolFailure(op, errors.New("no new window appeared"))
	}
	if err := wd.SwitchWindow(handle); err != nil {
		return nil, nil, protocolFailure(op, err)
	}

	info := &TabInfo{Handle: handle, Active: true}
	if target != "" {
		if err := wd.Get(target); err != nil {
			b.log.WithError(err).WithField("url", target).Warn("new tab navigation failed")
			info.NavigationError = err.Error()
		}
	}

	obs, err := b.observe(ctx, op, b.timing.Settle)
	if err != nil {
		return nil, nil, err
	}
	info.URL = obs.URL
	if title, err := wd.Title(); err == nil {
		info.Title = title
	}
	return obs, info, nil
}

func newHandle(before, after []string) string {
	seen := make(map[string]bool, len(before))
	for _, h := range before {
		seen[h] = true
	}
	for _, h := range after {
		if !seen[h] {
			return h
		}
	}
	return ""
}

func contains(handles []string, h string) bool {
	for _, x := range handles {
		if x == h {
			return true
		}
	}
	return false
}

// CloseTab closes handle (or the current tab) and selects the last
// remaining one. The final tab cannot be closed.
func (b *WebDriverBackend) CloseTab(ctx context.Context, handle string) (*Observation, error) {
	const op = "close_tab"
	wd, err := b.session(op)
	if err != nil {
		return nil, err
	}

	handles, err := wd.WindowHandles()
	if err != nil {
		return nil, protocolFailure(op, err)
	}
	current, err := wd.CurrentWindowHandle()
	if err != nil {
		return nil, protocolFailure(op, err)
	}

	target := handle
	if target == "" {
		target = current
	}
	if !contains(handles, target) {
		return nil, invalidInput(op, "unknown tab handle %q", target)
	}
	if len(handles) <= 1 {
		return nil, invalidInput(op, "cannot close the last remaining tab")
	}

	if target != current {
		if err := wd.SwitchWindow(target); err != nil {
			return nil, protocolFailure(op, err)
		}
	}
	if err := wd.CloseWindow(target); err != nil {
		return nil, protocolFailure(op, err)
	}

	remaining, err := wd.WindowHandles()
	if err != nil {
		return nil, protocolFailure(op, err)
	}
	if len(remaining) == 0 {
		return nil, protocolFailure(op, errors.New("no windows left after close"))
	}
	if err := wd.SwitchWindow(remaining[len(remaining)-1]); err != nil {
		return nil, protocolFailure(op, err)
	}
	return b.observe(ctx, op, b.timing.Settle)
}

// SwitchTab selects a tab by handle or by index.
func (b *WebDriverBackend) SwitchTab(ctx context.Context, sel TabSelector) (*Observation, error) {
	const op = "switch_tab"
	if (sel.Handle == nil) == (sel.Index == nil) {
		return nil, invalidInput(op, "provide exactly one of handle or index")
	}
	wd, err := b.session(op)
	if err != nil {
		return nil, err
	}

	handles, err := wd.WindowHandles()
	if err != nil {
		return nil, protocolFailure(op, err)
	}

	var target string
	if sel.Index != nil {
		i := *sel.Index
		if i < 0 || i >= len(handles) {
			return nil, invalidInput(op, "tab index %d out of range (0-%d)", i, len(handles)-1)
		}
		target = handles[i]
	} else {
		target = *sel.Handle
		if !contains(handles, target) {
			return nil, invalidInput(op, "unknown tab handle %q", target)
		}
	}

	if err := wd.SwitchWindow(target); err != nil {
		return nil, protocolFailure(op, err)
	}
	return b.observe(ctx, op, b.timing.Settle)
}

// ListTabs visits each window to read its URL and title, then returns to
// the original one.
func (b *WebDriverBackend) ListTabs(ctx context.Context) (*Observation, []TabInfo, error) {
	const op = "list_tabs"
	wd, err := b.session(op)
	if err != nil {
		return nil, nil, err
	}

	current, err := wd.CurrentWindowHandle()
	if err != nil {
		return nil, nil, protocolFailure(op, err)
	}
	handles, err := wd.WindowHandles()
	if err != nil {
		return nil, nil, protocolFailure(op, err)
	}

	tabs := make([]TabInfo, 0, len(handles))
	for _, h := range handles {
		if err := wd.SwitchWindow(h); err != nil {
			return nil, nil, protocolFailure(op, err)
		}
		url, err := wd.CurrentURL()
		if err != nil {
			b.log.WithError(err).WithField("handle", h).Debug("failed to read tab url")
		}
		title, err := wd.Title()
		if err != nil {
			b.log.WithError(err).WithField("handle", h).Debug("failed to read tab title")
		}
		tabs = append(tabs, TabInfo{Handle: h, URL: url, Title: title, Active: h == current})
	}
	if err := wd.SwitchWindow(current); err != nil {
		return nil, nil, protocolFailure(op, err)
	}

	obs, err := b.observe(ctx, op, b.timing.Settle)
	if err != nil {
		return nil, nil, err
	}
	return obs, tabs, nil
}
