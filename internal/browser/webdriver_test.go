package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"github.com/standardbeagle/browsr/internal/config"
)

func openTestWebDriver(t *testing.T, cfg *config.Config) (*WebDriverBackend, *fakeWebDriver) {
	t.Helper()
	b, fake, _ := newTestWebDriver(cfg)
	_, err := b.Open(context.Background())
	require.NoError(t, err)
	return b, fake
}

func TestWebDriver_Open(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ScreenWidth, cfg.ScreenHeight = 1024, 768
	b, fake, acq := newTestWebDriver(cfg)

	obs, err := b.Open(context.Background())
	require.NoError(t, err)
	assert.True(t, b.IsOpen())
	assert.Equal(t, cfg.InitialURL, obs.URL)
	assert.NotEmpty(t, obs.Screenshot)
	assert.Equal(t, [2]int{1024, 768}, fake.resized)

	// A second open reuses the session.
	again, err := b.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, obs.URL, again.URL)
	assert.Equal(t, 1, acq.calls)
}

func TestWebDriver_OpenAcquireFailure(t *testing.T) {
	b, _, acq := newTestWebDriver(nil)
	acq.err = errors.New("binary not found")

	_, err := b.Open(context.Background())
	require.Error(t, err)
	assert.False(t, b.IsOpen())
}

func TestWebDriver_OpenDialFailure(t *testing.T) {
	b, _, _ := newTestWebDriver(nil)
	b.dial = func(selenium.Capabilities, string) (webDriver, error) {
		return nil, errors.New("connection refused")
	}

	_, err := b.Open(context.Background())
	assert.ErrorIs(t, err, ErrProtocolFailure)
	assert.False(t, b.IsOpen())
}

func TestWebDriver_ActionsRequireOpen(t *testing.T) {
	b, _, _ := newTestWebDriver(nil)
	ctx := context.Background()

	calls := map[string]func() error{
		"current_state": func() error { _, err := b.CurrentState(ctx); return err },
		"click_at":      func() error { _, err := b.ClickAt(ctx, 1, 1); return err },
		"navigate":      func() error { _, err := b.Navigate(ctx, "example.com"); return err },
		"go_back":       func() error { _, err := b.GoBack(ctx); return err },
		"key":           func() error { _, err := b.KeyCombination(ctx, []string{"Enter"}); return err },
		"list_tabs":     func() error { _, _, err := b.ListTabs(ctx); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), ErrSessionNotOpen)
		})
	}
}

func TestWebDriver_CoordinateValidation(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	ctx := context.Background()
	before := len(fake.scripts)

	points := [][2]int{{-1, 0}, {0, -5}, {2561, 10}, {10, 1441}}
	for _, p := range points {
		_, err := b.ClickAt(ctx, p[0], p[1])
		assert.ErrorIs(t, err, ErrInvalidInput, "click %v", p)
		_, err = b.HoverAt(ctx, p[0], p[1])
		assert.ErrorIs(t, err, ErrInvalidInput, "hover %v", p)
		_, err = b.TypeTextAt(ctx, p[0], p[1], "x", false, true)
		assert.ErrorIs(t, err, ErrInvalidInput, "type %v", p)
		_, err = b.ScrollAt(ctx, p[0], p[1], "down", 800)
		assert.ErrorIs(t, err, ErrInvalidInput, "scroll %v", p)
		_, err = b.DragAndDrop(ctx, 10, 10, p[0], p[1])
		assert.ErrorIs(t, err, ErrInvalidInput, "drag %v", p)
	}
	assert.Len(t, fake.scripts, before, "no script may run for rejected coordinates")

	// The 2x boundary itself is accepted.
	_, err := b.ClickAt(ctx, 2560, 1440)
	assert.NoError(t, err)
}

func TestWebDriver_ClickAndHover(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	ctx := context.Background()

	_, err := b.ClickAt(ctx, 100, 200)
	require.NoError(t, err)
	assert.Contains(t, fake.lastScript(), "document.elementFromPoint(100, 200)")
	assert.Contains(t, fake.lastScript(), "el.click()")

	_, err = b.HoverAt(ctx, 5, 6)
	require.NoError(t, err)
	assert.Contains(t, fake.lastScript(), "'mouseenter', 'mouseover', 'mousemove'")
}

func TestWebDriver_HighlightMouse(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HighlightMouse = true
	b, fake := openTestWebDriver(t, cfg)

	_, err := b.ClickAt(context.Background(), 50, 60)
	require.NoError(t, err)
	assert.True(t, fake.ranScript("left:40px;top:50px"))
}

func TestWebDriver_TypeTextEscapesInput(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	text := `"); alert('x'); ("` + "\n\\"

	_, err := b.TypeTextAt(context.Background(), 10, 20, text, true, true)
	require.NoError(t, err)

	assert.True(t, fake.ranScript("el.focus()"))
	assert.True(t, fake.ranScript("selection.deleteFromDocument()"))
	assert.True(t, fake.ranScript(`var text = "\"); alert('x'); (\"\n\\";`))
	assert.Equal(t, []string{selenium.EnterKey}, fake.sentKeys)
}

func TestWebDriver_TypeTextWithoutClear(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)

	_, err := b.TypeTextAt(context.Background(), 10, 20, "hello", false, false)
	require.NoError(t, err)
	assert.False(t, fake.ranScript("deleteFromDocument"))
	assert.Empty(t, fake.sentKeys)
}

func TestWebDriver_Scroll(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	ctx := context.Background()

	_, err := b.ScrollDocument(ctx, "DOWN")
	require.NoError(t, err)
	assert.Contains(t, fake.lastScript(), "window.innerHeight * 0.8")

	_, err = b.ScrollDocument(ctx, "left")
	require.NoError(t, err)
	assert.Contains(t, fake.lastScript(), "-window.innerWidth * 0.5")

	_, err = b.ScrollAt(ctx, 10, 10, "up", 300)
	require.NoError(t, err)
	assert.Contains(t, fake.lastScript(), "el.scrollBy(0, -300)")

	_, err = b.ScrollDocument(ctx, "sideways")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWebDriver_Navigate(t *testing.T) {
	b, _ := openTestWebDriver(t, nil)
	ctx := context.Background()

	obs, err := b.Navigate(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", obs.URL)
	assert.NotEmpty(t, obs.Screenshot)

	obs, err = b.Navigate(ctx, "http://plain.test/path")
	require.NoError(t, err)
	assert.Equal(t, "http://plain.test/path", obs.URL)

	_, err = b.Navigate(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	obs, err = b.Search(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSearchURL, obs.URL)
}

func TestWebDriver_NavigateFailureKeepsSession(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	fake.getErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	_, err := b.Navigate(context.Background(), "nowhere.invalid")
	assert.ErrorIs(t, err, ErrProtocolFailure)
	assert.True(t, b.IsOpen())
}

func TestWebDriver_History(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)

	_, err := b.GoBack(context.Background())
	require.NoError(t, err)
	_, err = b.GoForward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"back", "forward"}, fake.history)
}

func TestWebDriver_ScreenshotRetry(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	b.timing.ScreenshotBackoff = time.Millisecond

	fake.screenshotCalls = 0
	fake.screenshotFails = 2
	obs, err := b.CurrentState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fakePNG, obs.Screenshot)
	assert.Equal(t, 3, fake.screenshotCalls)

	fake.screenshotCalls = 0
	fake.screenshotFails = 3
	_, err = b.CurrentState(context.Background())
	assert.ErrorIs(t, err, ErrProtocolFailure)
	assert.Equal(t, 3, fake.screenshotCalls)
}

func TestWebDriver_ReadinessTimeoutIsNotAnError(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	fake.readyState = "loading"
	b.timing.ReadyTimeout = 30 * time.Millisecond
	b.timing.ReadyInterval = 5 * time.Millisecond

	obs, err := b.CurrentState(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, obs.Screenshot)
}

func TestWebDriver_KeyCombination(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	ctx := context.Background()

	_, err := b.KeyCombination(ctx, []string{"Enter"})
	require.NoError(t, err)
	assert.Equal(t, []string{""}, fake.sentKeys)

	_, err = b.KeyCombination(ctx, []string{"Control", "c"})
	require.NoError(t, err)
	script := fake.lastScript()
	assert.Contains(t, script, `key: "c"`)
	assert.Contains(t, script, "ctrlKey: true")
	assert.Contains(t, script, "shiftKey: false")

	_, err = b.KeyCombination(ctx, []string{"shift", "meta", "ArrowLeft"})
	require.NoError(t, err)
	script = fake.lastScript()
	assert.Contains(t, script, `key: "ArrowLeft"`)
	assert.Contains(t, script, "shiftKey: true")
	assert.Contains(t, script, "metaKey: true")

	// Modifiers only dispatch nothing.
	before := len(fake.scripts)
	_, err = b.KeyCombination(ctx, []string{"Control", "Shift"})
	require.NoError(t, err)
	assert.Len(t, fake.scripts, before)

	_, err = b.KeyCombination(ctx, []string{"Control", "Hyper"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = b.KeyCombination(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWebDriver_DragAndDrop(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)

	_, err := b.DragAndDrop(context.Background(), 10, 20, 300, 400)
	require.NoError(t, err)
	script := fake.lastScript()
	assert.Contains(t, script, "startX = 10, startY = 20, endX = 300, endY = 400")
	for _, ev := range []string{"'dragstart'", "'drag'", "'drop'", "'dragend'"} {
		assert.Contains(t, script, ev)
	}
}

func TestWebDriver_Wait(t *testing.T) {
	b, _ := openTestWebDriver(t, nil)
	b.timing.Wait = 20 * time.Millisecond

	start := time.Now()
	_, err := b.Wait5Seconds(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.timing.Wait = time.Hour
	_, err = b.Wait5Seconds(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWebDriver_Tabs(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	ctx := context.Background()

	obs, tab, err := b.NewTab(ctx, "example.org")
	require.NoError(t, err)
	assert.Equal(t, "tab-1", tab.Handle)
	assert.True(t, tab.Active)
	assert.Equal(t, "https://example.org", tab.URL)
	assert.Equal(t, "https://example.org", obs.URL)
	assert.Empty(t, tab.NavigationError)
	assert.Equal(t, "tab-1", fake.current)

	_, tabs, err := b.ListTabs(ctx)
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	assert.Equal(t, "main", tabs[0].Handle)
	assert.False(t, tabs[0].Active)
	assert.Equal(t, config.DefaultInitialURL, tabs[0].URL)
	assert.True(t, tabs[1].Active)
	assert.Equal(t, "tab-1", fake.current, "list_tabs must re-select the original tab")

	zero := 0
	obs, err = b.SwitchTab(ctx, TabSelector{Index: &zero})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultInitialURL, obs.URL)

	handle := "tab-1"
	_, err = b.SwitchTab(ctx, TabSelector{Handle: &handle})
	require.NoError(t, err)
	assert.Equal(t, "tab-1", fake.current)

	_, err = b.CloseTab(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, fake.handles)
	assert.Equal(t, "main", fake.current)

	_, err = b.CloseTab(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput, "last tab cannot be closed")
}

func TestWebDriver_TabSelectorValidation(t *testing.T) {
	b, _ := openTestWebDriver(t, nil)
	ctx := context.Background()

	_, err := b.SwitchTab(ctx, TabSelector{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	h, i := "main", 0
	_, err = b.SwitchTab(ctx, TabSelector{Handle: &h, Index: &i})
	assert.ErrorIs(t, err, ErrInvalidInput)

	out := 5
	_, err = b.SwitchTab(ctx, TabSelector{Index: &out})
	assert.ErrorIs(t, err, ErrInvalidInput)

	unknown := "ghost"
	_, err = b.SwitchTab(ctx, TabSelector{Handle: &unknown})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = b.CloseTab(ctx, "ghost")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWebDriver_NewTabNavigationFailure(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	fake.getErr = errors.New("timeout")

	_, tab, err := b.NewTab(context.Background(), "slow.test")
	require.NoError(t, err)
	assert.Equal(t, "timeout", tab.NavigationError)
	assert.Equal(t, "about:blank", tab.URL)
}

func TestWebDriver_CloseIsIdempotent(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)

	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, 1, fake.quits)
	assert.False(t, b.IsOpen())

	_, err := b.CurrentState(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestWebDriver_Capabilities(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BrowserPath = "/opt/chrome/chrome"
	cfg.Undetected = true
	b, _, _ := newTestWebDriver(cfg)

	caps := b.capabilities()
	assert.Equal(t, "chrome", caps["browserName"])

	opts, ok := caps[chrome.CapabilitiesKey].(chrome.Capabilities)
	require.True(t, ok, "chrome options missing: %v", caps)
	assert.Equal(t, "/opt/chrome/chrome", opts.Path)
	assert.True(t, opts.W3C)
	assert.Contains(t, opts.Args, "--disable-blink-features=AutomationControlled")
	assert.Equal(t, []string{"enable-automation"}, opts.ExcludeSwitches)
}

func TestWebDriver_ListTabsUnreadableTitle(t *testing.T) {
	b, fake := openTestWebDriver(t, nil)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	b.log = logger
	fake.titleErr = errors.New("no such window")

	_, tabs, err := b.ListTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	assert.Equal(t, config.DefaultInitialURL, tabs[0].URL)
	assert.Empty(t, tabs[0].Title)
	assert.True(t, tabs[0].Active)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Message == "failed to read tab title" && e.Level == logrus.DebugLevel {
			logged = true
			assert.Equal(t, "main", e.Data["handle"])
		}
	}
	assert.True(t, logged, "title error should be logged")
}
