package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/browsr/internal/config"
	"github.com/standardbeagle/browsr/internal/driver"
)

// Acquirer supplies control endpoints. *driver.Acquirer implements it.
type Acquirer interface {
	WebDriver(ctx context.Context) (string, *driver.Record, error)
	DevTools(ctx context.Context) (string, *driver.Record, error)
}

// Timing holds the delays used around actions.
type Timing struct {
	// Settle is the pause between page readiness and the screenshot.
	Settle time.Duration
	// NavigateSettle replaces Settle after DevTools navigations.
	NavigateSettle time.Duration
	ReadyInterval  time.Duration
	ReadyTimeout   time.Duration
	// TypeDelay follows the focusing click of type_text_at.
	TypeDelay time.Duration
	Wait      time.Duration
	// ScreenshotBackoff is the first retry delay; it doubles per attempt.
	ScreenshotBackoff time.Duration
	ScreenshotTries   int
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		Settle:            500 * time.Millisecond,
		NavigateSettle:    time.Second,
		ReadyInterval:     100 * time.Millisecond,
		ReadyTimeout:      10 * time.Second,
		TypeDelay:         100 * time.Millisecond,
		Wait:              5 * time.Second,
		ScreenshotBackoff: 200 * time.Millisecond,
		ScreenshotTries:   3,
	}
}

// New builds the backend for cfg.ConnectionMode.
func New(cfg *config.Config, acq Acquirer, log logrus.FieldLogger) (Backend, error) {
	switch cfg.ConnectionMode {
	case config.ModeWebDriver:
		return NewWebDriver(cfg, acq, log), nil
	case config.ModeCDP:
		return NewCDP(cfg, acq, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown connection mode %q", config.ErrInvalidConfig, cfg.ConnectionMode)
	}
}

// base carries what both protocol backends share.
type base struct {
	cfg    *config.Config
	acq    Acquirer
	log    logrus.FieldLogger
	timing Timing
	rec    *driver.Record
}

func newBase(cfg *config.Config, acq Acquirer, log logrus.FieldLogger, protocol string) base {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return base{
		cfg:    cfg,
		acq:    acq,
		log:    log.WithFields(logrus.Fields{"component": "browser", "protocol": protocol}),
		timing: DefaultTiming(),
	}
}

// checkPoint rejects coordinates that are negative or beyond twice the
// viewport.
func (b *base) checkPoint(op string, x, y int) error {
	if x < 0 || y < 0 {
		return invalidInput(op, "coordinates cannot be negative: (%d, %d)", x, y)
	}
	if x > 2*b.cfg.ScreenWidth || y > 2*b.cfg.ScreenHeight {
		return invalidInput(op, "coordinates (%d, %d) are too far outside the %dx%d screen",
			x, y, b.cfg.ScreenWidth, b.cfg.ScreenHeight)
	}
	return nil
}

// stopRecord stops any process launched for the session.
func (b *base) stopRecord(ctx context.Context) error {
	rec := b.rec
	b.rec = nil
	if err := rec.Stop(ctx); err != nil {
		b.log.WithError(err).Warn("failed to stop browser process")
		return err
	}
	return nil
}

// NormalizeURL prefixes https:// unless the URL already names http or https.
func NormalizeURL(op, raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", invalidInput(op, "url is required")
	}
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u, nil
	}
	return "https://" + u, nil
}

// sleep pauses for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// waitReady polls check until it reports a complete document or the ready
// timeout passes. Timing out is logged, not returned.
func (b *base) waitReady(ctx context.Context, check func(context.Context) (string, error)) {
	deadline := time.Now().Add(b.timing.ReadyTimeout)
	for {
		state, err := check(ctx)
		if err == nil && state == "complete" {
			return
		}
		if time.Now().After(deadline) {
			b.log.WithField("ready_state", state).Warn("page not ready after timeout, continuing")
			return
		}
		if sleep(ctx, b.timing.ReadyInterval) != nil {
			return
		}
	}
}
