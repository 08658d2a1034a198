package process

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultReadyInterval is the delay between connection attempts.
	DefaultReadyInterval = 100 * time.Millisecond
	// DefaultReadyTimeout bounds how long a launched process may take to open its port.
	DefaultReadyTimeout = 30 * time.Second
)

func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// PortInUse reports whether something already accepts TCP connections on
// 127.0.0.1:port.
func PortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", localAddr(port), DefaultReadyInterval)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitForPort polls 127.0.0.1:port until it accepts a connection.
// It returns ErrAcquisitionTimeout once timeout elapses, or ctx.Err() if the
// context ends first. exited, when non-nil, aborts the wait early.
func WaitForPort(ctx context.Context, port int, interval, timeout time.Duration, exited <-chan struct{}) error {
	if interval <= 0 {
		interval = DefaultReadyInterval
	}
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var dialer net.Dialer
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, interval)
		conn, err := dialer.DialContext(attemptCtx, "tcp", localAddr(port))
		cancel()
		if err == nil {
			conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: port %d not ready after %s", ErrAcquisitionTimeout, port, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return fmt.Errorf("%w before port %d became ready", ErrProcessExited, port)
		case <-ticker.C:
		}
	}
}
