package browser

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/browsr/internal/config"
)

// CDPBackend drives Chrome directly over the DevTools protocol.
type CDPBackend struct {
	base

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewCDP creates a closed DevTools backend.
func NewCDP(cfg *config.Config, acq Acquirer, log logrus.FieldLogger) *CDPBackend {
	return &CDPBackend{base: newBase(cfg, acq, log, "cdp")}
}

// IsOpen reports whether a live tab is attached. A lost connection cancels
// the tab context, so a dead tab reads as closed.
func (b *CDPBackend) IsOpen() bool { return b.tabCtx != nil && b.tabCtx.Err() == nil }

// Open connects to the DevTools endpoint, creates a page target and loads
// the initial URL.
func (b *CDPBackend) Open(ctx context.Context) (*Observation, error) {
	const op = "open_web_browser"
	if b.IsOpen() {
		return b.observe(ctx, op, b.timing.Settle)
	}
	if b.tabCtx != nil {
		// The connection was lost; start over.
		_ = b.Close(ctx)
	}

	wsURL, rec, err := b.acq.DevTools(ctx)
	if err != nil {
		return nil, err
	}
	b.rec = rec

	// The browser outlives the request, so its contexts hang off Background.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	b.allocCancel, b.tabCtx, b.tabCancel = allocCancel, tabCtx, tabCancel

	// The first Run binds the connection and the page target to the context
	// it is given; only later runs may use short-lived children of tabCtx.
	if err := chromedp.Run(tabCtx); err != nil {
		_ = b.Close(context.Background())
		return nil, protocolFailure(op, fmt.Errorf("failed to attach via %s: %w", wsURL, err))
	}

	setup := []chromedp.Action{
		chromedp.EmulateViewport(int64(b.cfg.ScreenWidth), int64(b.cfg.ScreenHeight)),
	}
	if b.cfg.Undetected {
		setup = append(setup, chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
				b.log.WithError(err).Warn("failed to install stealth script")
			}
			return nil
		}))
	}
	setup = append(setup, chromedp.Navigate(b.cfg.InitialURL))

	if err := b.run(ctx, setup...); err != nil {
		_ = b.Close(context.Background())
		return nil, protocolFailure(op, fmt.Errorf("failed to open page via %s: %w", wsURL, err))
	}

	b.log.WithField("endpoint", wsURL).Info("browser opened")
	return b.observe(ctx, op, b.timing.NavigateSettle)
}

// Close detaches from the browser and stops it if it was launched here.
func (b *CDPBackend) Close(ctx context.Context) error {
	if b.detach() {
		b.log.Info("browser closed")
	}
	return b.stopRecord(ctx)
}

// detach closes the page target and the websocket, if any.
func (b *CDPBackend) detach() bool {
	if b.tabCancel == nil {
		return false
	}
	b.tabCancel()
	b.allocCancel()
	b.tabCtx, b.tabCancel, b.allocCancel = nil, nil, nil
	return true
}

// run executes actions on the tab, also aborting when ctx ends.
func (b *CDPBackend) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (b *CDPBackend) ensureOpen(op string) error {
	if !b.IsOpen() {
		return notOpen(op)
	}
	return nil
}

func (b *CDPBackend) eval(ctx context.Context, op, body string) error {
	if err := b.ensureOpen(op); err != nil {
		return err
	}
	var ok bool
	if err := b.run(ctx, chromedp.Evaluate(iife(body), &ok)); err != nil {
		return protocolFailure(op, err)
	}
	return nil
}

func (b *CDPBackend) readyState(ctx context.Context) (string, error) {
	var state string
	err := b.run(ctx, chromedp.Evaluate(`document.readyState`, &state))
	return state, err
}

func (b *CDPBackend) observe(ctx context.Context, op string, settle time.Duration) (*Observation, error) {
	if err := b.ensureOpen(op); err != nil {
		return nil, err
	}
	b.waitReady(ctx, b.readyState)
	if err := sleep(ctx, settle); err != nil {
		return nil, err
	}

	var png []byte
	var url string
	if err := b.run(ctx, chromedp.CaptureScreenshot(&png), chromedp.Location(&url)); err != nil {
		return nil, protocolFailure(op, err)
	}
	return &Observation{Screenshot: png, URL: url}, nil
}

func (b *CDPBackend) highlight(ctx context.Context, x, y int) {
	if !b.cfg.HighlightMouse || !b.IsOpen() {
		return
	}
	if err := b.eval(ctx, "highlight", highlightScript(x, y)); err != nil {
		b.log.WithError(err).Debug("highlight failed")
	}
}

func (b *CDPBackend) pointAction(ctx context.Context, op string, x, y int, script string) (*Observation, error) {
	if err := b.checkPoint(op, x, y); err != nil {
		return nil, err
	}
	if err := b.ensureOpen(op); err != nil {
		return nil, err
	}
	b.highlight(ctx, x, y)
	if err := b.eval(ctx, op, script); err != nil {
		return nil, err
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *CDPBackend) CurrentState(ctx context.Context) (*Observation, error) {
	return b.observe(ctx, "current_state", b.timing.Settle)
}

func (b *CDPBackend) ClickAt(ctx context.Context, x, y int) (*Observation, error) {
	return b.pointAction(ctx, "click_at", x, y, clickScript(x, y))
}

func (b *CDPBackend) HoverAt(ctx context.Context, x, y int) (*Observation, error) {
	return b.pointAction(ctx, "hover_at", x, y, hoverScript(x, y))
}

func (b *CDPBackend) TypeTextAt(ctx context.Context, x, y int, text string, pressEnter, clearBeforeTyping bool) (*Observation, error) {
	const op = "type_text_at"
	if err := b.checkPoint(op, x, y); err != nil {
		return nil, err
	}
	if err := b.ensureOpen(op); err != nil {
		return nil, err
	}
	b.highlight(ctx, x, y)

	if err := b.eval(ctx, op, focusScript(x, y)); err != nil {
		return nil, err
	}
	if err := sleep(ctx, b.timing.TypeDelay); err != nil {
		return nil, err
	}
	if clearBeforeTyping {
		if err := b.eval(ctx, op, clearScript); err != nil {
			return nil, err
		}
	}
	if err := b.eval(ctx, op, insertTextScript(text)); err != nil {
		return nil, err
	}
	if pressEnter {
		enter := namedKeys["enter"]
		if err := b.run(ctx, keyDown(enter, 0, "\r"), keyUp(enter, 0)); err != nil {
			return nil, protocolFailure(op, err)
		}
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *CDPBackend) ScrollDocument(ctx context.Context, direction string) (*Observation, error) {
	const op = "scroll_document"
	d, err := ParseDirection(op, direction)
	if err != nil {
		return nil, err
	}
	if err := b.eval(ctx, op, scrollDocumentScript(d)); err != nil {
		return nil, err
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *CDPBackend) ScrollAt(ctx context.Context, x, y int, direction string, magnitude int) (*Observation, error) {
	const op = "scroll_at"
	d, err := ParseDirection(op, direction)
	if err != nil {
		return nil, err
	}
	dx, dy := d.Delta(magnitude)
	return b.pointAction(ctx, op, x, y, scrollAtScript(x, y, dx, dy))
}

func (b *CDPBackend) Wait5Seconds(ctx context.Context) (*Observation, error) {
	const op = "wait_5_seconds"
	if err := b.ensureOpen(op); err != nil {
		return nil, err
	}
	if err := sleep(ctx, b.timing.Wait); err != nil {
		return nil, err
	}
	return b.observe(ctx, op, 0)
}

// history moves delta entries through the navigation history. At either
// end it does nothing.
func (b *CDPBackend) history(ctx context.Context, op string, delta int64) (*Observation, error) {
	if err := b.ensureOpen(op); err != nil {
		return nil, err
	}
	err := b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		current, entries, err := page.GetNavigationHistory().Do(ctx)
		if err != nil {
			return err
		}
		next := current + delta
		if next < 0 || next >= int64(len(entries)) {
			return nil
		}
		return page.NavigateToHistoryEntry(entries[next].ID).Do(ctx)
	}))
	if err != nil {
		return nil, protocolFailure(op, err)
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *CDPBackend) GoBack(ctx context.Context) (*Observation, error) {
	return b.history(ctx, "go_back", -1)
}

func (b *CDPBackend) GoForward(ctx context.Context) (*Observation, error) {
	return b.history(ctx, "go_forward", 1)
}

func (b *CDPBackend) Search(ctx context.Context) (*Observation, error) {
	return b.navigate(ctx, "search", b.cfg.SearchEngineURL)
}

func (b *CDPBackend) Navigate(ctx context.Context, url string) (*Observation, error) {
	return b.navigate(ctx, "navigate", url)
}

func (b *CDPBackend) navigate(ctx context.Context, op, raw string) (*Observation, error) {
	url, err := NormalizeURL(op, raw)
	if err != nil {
		return nil, err
	}
	if err := b.ensureOpen(op); err != nil {
		return nil, err
	}
	if err := b.run(ctx, chromedp.Navigate(url)); err != nil {
		return nil, protocolFailure(op, err)
	}
	return b.observe(ctx, op, b.timing.NavigateSettle)
}

func keyDown(k keyDef, mods input.Modifier, text string) *input.DispatchKeyEventParams {
	p := input.DispatchKeyEvent(input.KeyDown).
		WithKey(k.key).
		WithCode(k.code).
		WithWindowsVirtualKeyCode(k.vk).
		WithModifiers(mods)
	if text != "" {
		p = p.WithText(text)
	}
	return p
}

func keyUp(k keyDef, mods input.Modifier) *input.DispatchKeyEventParams {
	return input.DispatchKeyEvent(input.KeyUp).
		WithKey(k.key).
		WithCode(k.code).
		WithWindowsVirtualKeyCode(k.vk).
		WithModifiers(mods)
}

// keyText is the text a key produces, if any, under the held modifiers.
func keyText(k keyDef, mods input.Modifier) string {
	if mods&^input.ModifierShift != 0 {
		return ""
	}
	if k.key == "Enter" {
		return "\r"
	}
	if utf8.RuneCountInString(k.key) == 1 {
		return k.key
	}
	return ""
}

// keySequence presses modifiers in order, taps every other key with the
// modifier mask held, then releases the modifiers in reverse.
func keySequence(defs []keyDef) []chromedp.Action {
	var actions []chromedp.Action
	var mods input.Modifier
	var held []keyDef

	for _, k := range defs {
		if k.isModifier() {
			mods |= k.modifier
			held = append(held, k)
			actions = append(actions, keyDown(k, mods, ""))
		}
	}
	for _, k := range defs {
		if k.isModifier() {
			continue
		}
		actions = append(actions, keyDown(k, mods, keyText(k, mods)), keyUp(k, mods))
	}
	for i := len(held) - 1; i >= 0; i-- {
		mods &^= held[i].modifier
		actions = append(actions, keyUp(held[i], mods))
	}
	return actions
}

func (b *CDPBackend) KeyCombination(ctx context.Context, keys []string) (*Observation, error) {
	const op = "key_combination"
	defs, err := resolveKeys(op, keys)
	if err != nil {
		return nil, err
	}
	if err := b.ensureOpen(op); err != nil {
		return nil, err
	}
	if err := b.run(ctx, keySequence(defs)...); err != nil {
		return nil, protocolFailure(op, err)
	}
	return b.observe(ctx, op, b.timing.Settle)
}

func (b *CDPBackend) DragAndDrop(ctx context.Context, x, y, destX, destY int) (*Observation, error) {
	const op = "drag_and_drop"
	if err := b.checkPoint(op, destX, destY); err != nil {
		return nil, err
	}
	return b.pointAction(ctx, op, x, y, dragScript(x, y, destX, destY))
}

func (b *CDPBackend) NewTab(context.Context, string) (*Observation, *TabInfo, error) {
	return nil, nil, unsupported("new_tab", "cdp")
}

func (b *CDPBackend) CloseTab(context.Context, string) (*Observation, error) {
	return nil, unsupported("close_tab", "cdp")
}

func (b *CDPBackend) SwitchTab(context.Context, TabSelector) (*Observation, error) {
	return nil, unsupported("switch_tab", "cdp")
}

func (b *CDPBackend) ListTabs(context.Context) (*Observation, []TabInfo, error) {
	return nil, nil, unsupported("list_tabs", "cdp")
}
