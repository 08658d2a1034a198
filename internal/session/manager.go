// Package session owns the single browser session: it serializes actions,
// tracks activity and closes the browser after a configurable idle period.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/browsr/internal/browser"
	"github.com/standardbeagle/browsr/internal/config"
	"github.com/standardbeagle/browsr/internal/metrics"
)

// MinCheckInterval is the shortest idle monitor period.
const MinCheckInterval = time.Second

// Activity is a point-in-time view of the session.
type Activity struct {
	Open           bool
	InProgress     bool
	LastActivity   time.Time
	MonitorRunning bool
}

// Manager is the lifecycle owner of one Backend. All actions run under a
// single lock; callers queue rather than fail.
type Manager struct {
	mu      sync.Mutex
	backend browser.Backend

	idleTimeout   time.Duration
	minInterval   time.Duration
	openOnStart   bool
	log           logrus.FieldLogger
	metrics       *metrics.Metrics
	lastActivity  atomic.Int64
	inProgress    atomic.Bool
	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// New creates a manager around a closed backend. m may be nil.
func New(backend browser.Backend, cfg *config.Config, log logrus.FieldLogger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	mgr := &Manager{
		backend:     backend,
		idleTimeout: cfg.IdleTimeout.Std(),
		minInterval: MinCheckInterval,
		openOnStart: cfg.OpenBrowserOnStart,
		log:         log.WithField("component", "session"),
		metrics:     m,
	}
	mgr.lastActivity.Store(time.Now().UnixNano())
	return mgr
}

// CheckInterval is how often the idle monitor wakes for a given timeout.
func CheckInterval(timeout, floor time.Duration) time.Duration {
	if d := timeout / 4; d > floor {
		return d
	}
	return floor
}

// touch marks an action as started.
func (m *Manager) touch() {
	m.inProgress.Store(true)
	m.lastActivity.Store(time.Now().UnixNano())
}

// complete restarts the idle clock from the end of the action.
func (m *Manager) complete() {
	m.lastActivity.Store(time.Now().UnixNano())
	m.inProgress.Store(false)
}

// run is the envelope every action goes through.
func (m *Manager) run(op string, fn func() error) error {
	m.touch()
	start := time.Now()

	m.mu.Lock()
	err := fn()
	open := m.backend.IsOpen()
	m.mu.Unlock()

	m.complete()
	m.metrics.ObserveTool(op, err, time.Since(start))
	m.metrics.SetSessionOpen(open)

	entry := m.log.WithFields(logrus.Fields{"op": op, "elapsed": time.Since(start).Round(time.Millisecond)})
	if err != nil {
		entry.WithError(err).Debug("action failed")
	} else {
		entry.Debug("action completed")
	}
	return err
}

func (m *Manager) observe(ctx context.Context, op string, fn func(context.Context) (*browser.Observation, error)) (*browser.Observation, error) {
	var obs *browser.Observation
	err := m.run(op, func() error {
		var err error
		obs, err = fn(ctx)
		return err
	})
	return obs, err
}

// Open opens the browser, or returns the current state if it is already
// open, and starts the idle monitor on success.
func (m *Manager) Open(ctx context.Context) (*browser.Observation, error) {
	obs, err := m.observe(ctx, "open_web_browser", m.backend.Open)
	if err != nil {
		return nil, err
	}
	m.StartIdleMonitor()
	return obs, nil
}

// Close closes the browser. Closing a closed session does nothing.
func (m *Manager) Close(ctx context.Context) error {
	return m.run("close", func() error { return m.backend.Close(ctx) })
}

func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.IsOpen()
}

func (m *Manager) CurrentState(ctx context.Context) (*browser.Observation, error) {
	return m.observe(ctx, "current_state", m.backend.CurrentState)
}

func (m *Manager) ClickAt(ctx context.Context, x, y int) (*browser.Observation, error) {
	return m.observe(ctx, "click_at", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.ClickAt(ctx, x, y)
	})
}

func (m *Manager) HoverAt(ctx context.Context, x, y int) (*browser.Observation, error) {
	return m.observe(ctx, "hover_at", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.HoverAt(ctx, x, y)
	})
}

func (m *Manager) TypeTextAt(ctx context.Context, x, y int, text string, pressEnter, clearBeforeTyping bool) (*browser.Observation, error) {
	return m.observe(ctx, "type_text_at", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.TypeTextAt(ctx, x, y, text, pressEnter, clearBeforeTyping)
	})
}

func (m *Manager) ScrollDocument(ctx context.Context, direction string) (*browser.Observation, error) {
	return m.observe(ctx, "scroll_document", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.ScrollDocument(ctx, direction)
	})
}

func (m *Manager) ScrollAt(ctx context.Context, x, y int, direction string, magnitude int) (*browser.Observation, error) {
	return m.observe(ctx, "scroll_at", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.ScrollAt(ctx, x, y, direction, magnitude)
	})
}

func (m *Manager) Wait5Seconds(ctx context.Context) (*browser.Observation, error) {
	return m.observe(ctx, "wait_5_seconds", m.backend.Wait5Seconds)
}

func (m *Manager) GoBack(ctx context.Context) (*browser.Observation, error) {
	return m.observe(ctx, "go_back", m.backend.GoBack)
}

func (m *Manager) GoForward(ctx context.Context) (*browser.Observation, error) {
	return m.observe(ctx, "go_forward", m.backend.GoForward)
}

func (m *Manager) Search(ctx context.Context) (*browser.Observation, error) {
	return m.observe(ctx, "search", m.backend.Search)
}

func (m *Manager) Navigate(ctx context.Context, url string) (*browser.Observation, error) {
	return m.observe(ctx, "navigate", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.Navigate(ctx, url)
	})
}

func (m *Manager) KeyCombination(ctx context.Context, keys []string) (*browser.Observation, error) {
	return m.observe(ctx, "key_combination", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.KeyCombination(ctx, keys)
	})
}

func (m *Manager) DragAndDrop(ctx context.Context, x, y, destX, destY int) (*browser.Observation, error) {
	return m.observe(ctx, "drag_and_drop", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.DragAndDrop(ctx, x, y, destX, destY)
	})
}

func (m *Manager) NewTab(ctx context.Context, url string) (*browser.Observation, *browser.TabInfo, error) {
	var tab *browser.TabInfo
	obs, err := m.observe(ctx, "new_tab", func(ctx context.Context) (*browser.Observation, error) {
		obs, info, err := m.backend.NewTab(ctx, url)
		tab = info
		return obs, err
	})
	return obs, tab, err
}

func (m *Manager) CloseTab(ctx context.Context, handle string) (*browser.Observation, error) {
	return m.observe(ctx, "close_tab", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.CloseTab(ctx, handle)
	})
}

func (m *Manager) SwitchTab(ctx context.Context, sel browser.TabSelector) (*browser.Observation, error) {
	return m.observe(ctx, "switch_tab", func(ctx context.Context) (*browser.Observation, error) {
		return m.backend.SwitchTab(ctx, sel)
	})
}

func (m *Manager) ListTabs(ctx context.Context) (*browser.Observation, []browser.TabInfo, error) {
	var tabs []browser.TabInfo
	obs, err := m.observe(ctx, "list_tabs", func(ctx context.Context) (*browser.Observation, error) {
		obs, list, err := m.backend.ListTabs(ctx)
		tabs = list
		return obs, err
	})
	return obs, tabs, err
}

// Init opens the browser when configured to open on start.
func (m *Manager) Init(ctx context.Context) error {
	if !m.openOnStart {
		return nil
	}
	m.log.Info("opening browser on start")

	m.mu.Lock()
	_, err := m.backend.Open(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.touch()
	m.complete()
	m.metrics.SetSessionOpen(true)
	m.StartIdleMonitor()
	return nil
}

// Shutdown stops the idle monitor and closes the browser. It is safe to
// call on every exit path and more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.log.Info("shutting down session")
	m.stopIdleMonitor()

	m.mu.Lock()
	err := m.backend.Close(ctx)
	m.mu.Unlock()
	m.metrics.SetSessionOpen(false)
	if err != nil {
		m.log.WithError(err).Warn("error closing browser during shutdown")
	}
	return err
}

// Snapshot reports the session state. It waits for any running action.
func (m *Manager) Snapshot() Activity {
	m.mu.Lock()
	open := m.backend.IsOpen()
	m.mu.Unlock()

	m.monitorMu.Lock()
	running := m.monitorDone != nil
	m.monitorMu.Unlock()

	return Activity{
		Open:           open,
		InProgress:     m.inProgress.Load(),
		LastActivity:   time.Unix(0, m.lastActivity.Load()),
		MonitorRunning: running,
	}
}
