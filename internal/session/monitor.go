package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// StartIdleMonitor starts the idle monitor unless one is already running
// or the idle timeout is zero.
func (m *Manager) StartIdleMonitor() {
	if m.idleTimeout <= 0 {
		return
	}

	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.monitorCancel, m.monitorDone = cancel, done

	interval := CheckInterval(m.idleTimeout, m.minInterval)
	m.log.WithFields(logrus.Fields{
		"timeout":  m.idleTimeout,
		"interval": interval,
	}).Debug("idle monitor started")

	go m.monitor(ctx, done, interval)
}

// stopIdleMonitor cancels the monitor and waits for it to exit.
func (m *Manager) stopIdleMonitor() {
	m.monitorMu.Lock()
	cancel, done := m.monitorCancel, m.monitorDone
	m.monitorCancel, m.monitorDone = nil, nil
	m.monitorMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) monitor(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)
	defer m.clearMonitor(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.inProgress.Load() {
			continue
		}
		idle := time.Since(time.Unix(0, m.lastActivity.Load()))
		if idle < m.idleTimeout {
			continue
		}
		// An action that starts now wins; check again next tick.
		if !m.inProgress.CompareAndSwap(false, true) {
			continue
		}

		m.log.WithFields(logrus.Fields{
			"idle":    idle.Round(time.Second),
			"timeout": m.idleTimeout,
		}).Info("browser idle, closing")

		m.mu.Lock()
		err := m.backend.Close(context.Background())
		m.mu.Unlock()
		if err != nil {
			m.log.WithError(err).Warn("error closing idle browser")
		}
		m.metrics.IdleClosed()
		m.metrics.SetSessionOpen(false)
		m.inProgress.Store(false)
		return
	}
}

// clearMonitor forgets a monitor that exited on its own so a later open
// can start a new one.
func (m *Manager) clearMonitor(done chan struct{}) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorDone == done {
		m.monitorCancel()
		m.monitorCancel, m.monitorDone = nil, nil
	}
}
