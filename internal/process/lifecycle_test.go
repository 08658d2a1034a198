//go:build !windows

package process

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func newTestManager(readyTimeout time.Duration) *ProcessManager {
	return NewProcessManager(ManagerConfig{
		GracefulTimeout: time.Second,
		ReadyTimeout:    readyTimeout,
		ReadyInterval:   20 * time.Millisecond,
	}, quietLogger())
}

func TestProcessManager_LaunchWaitsForPort(t *testing.T) {
	pm := newTestManager(5 * time.Second)
	defer pm.Shutdown(context.Background())

	port := freePort(t)

	// Open the port shortly after launch to simulate a slow driver.
	listening := make(chan net.Listener, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		l, err := net.Listen("tcp", localAddr(port))
		if err != nil {
			listening <- nil
			return
		}
		listening <- l
	}()

	start := time.Now()
	proc, err := pm.Launch(context.Background(), ProcessConfig{
		ID:      "driver",
		Command: "sleep",
		Args:    []string{"60"},
		Port:    port,
	})
	l := <-listening
	if l != nil {
		defer l.Close()
	}
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Errorf("Launch returned before the port opened")
	}
	if proc.State() != StateRunning {
		t.Errorf("expected state=running, got %s", proc.State())
	}
	if pm.ActiveCount() != 1 {
		t.Errorf("expected 1 active process, got %d", pm.ActiveCount())
	}

	if err := pm.StopProcess(context.Background(), proc); err != nil {
		t.Fatalf("StopProcess failed: %v", err)
	}
}

func TestProcessManager_LaunchPortInUse(t *testing.T) {
	pm := newTestManager(time.Second)
	defer pm.Shutdown(context.Background())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	_, err = pm.Launch(context.Background(), ProcessConfig{
		ID:      "driver",
		Command: "sleep",
		Args:    []string{"60"},
		Port:    port,
	})
	if !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
	if pm.TotalStarted() != 0 {
		t.Errorf("no process should have been started, got %d", pm.TotalStarted())
	}
}

func TestProcessManager_LaunchTimeout(t *testing.T) {
	pm := newTestManager(300 * time.Millisecond)
	defer pm.Shutdown(context.Background())

	_, err := pm.Launch(context.Background(), ProcessConfig{
		ID:      "silent",
		Command: "sleep",
		Args:    []string{"60"},
		Port:    freePort(t),
	})
	if !errors.Is(err, ErrAcquisitionTimeout) {
		t.Fatalf("expected ErrAcquisitionTimeout, got %v", err)
	}
	if pm.ActiveCount() != 0 {
		t.Errorf("timed out process should be removed, active=%d", pm.ActiveCount())
	}
}

func TestProcessManager_LaunchExitedEarly(t *testing.T) {
	pm := newTestManager(5 * time.Second)
	defer pm.Shutdown(context.Background())

	_, err := pm.Launch(context.Background(), ProcessConfig{
		ID:      "crash",
		Command: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
		Port:    freePort(t),
	})
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
	if pm.TotalStarted() != 1 {
		t.Errorf("expected 1 started process, got %d", pm.TotalStarted())
	}
	if pm.TotalFailed() != 1 {
		t.Errorf("an early exit should count as a failure, got %d", pm.TotalFailed())
	}
}

func TestProcessManager_StopIsIdempotent(t *testing.T) {
	pm := newTestManager(time.Second)
	defer pm.Shutdown(context.Background())

	proc, err := pm.Launch(context.Background(), ProcessConfig{
		ID:      "sleeper",
		Command: "sleep",
		Args:    []string{"60"},
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if !proc.Alive() {
		t.Fatal("process should be alive after launch")
	}

	for i := 0; i < 3; i++ {
		if err := pm.StopProcess(context.Background(), proc); err != nil {
			t.Fatalf("StopProcess #%d failed: %v", i+1, err)
		}
	}

	select {
	case <-proc.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}
	if proc.State() != StateStopped {
		t.Errorf("expected state=stopped, got %s", proc.State())
	}
	ran := proc.Runtime()
	if ran <= 0 {
		t.Errorf("expected a positive runtime, got %s", ran)
	}
	time.Sleep(20 * time.Millisecond)
	if proc.Runtime() != ran {
		t.Errorf("runtime kept growing after exit: %s then %s", ran, proc.Runtime())
	}
	if pm.TotalFailed() != 0 {
		t.Errorf("a requested stop is not a failure, got %d", pm.TotalFailed())
	}
	if proc.Alive() {
		t.Error("process still alive after stop")
	}
	if pm.ActiveCount() != 0 {
		t.Errorf("expected registry to be empty, got %d", pm.ActiveCount())
	}
}

func TestProcessManager_AggressiveStop(t *testing.T) {
	pm := newTestManager(time.Second)
	defer pm.Shutdown(context.Background())

	// Ignores SIGTERM so only SIGKILL ends it.
	proc, err := pm.Launch(context.Background(), ProcessConfig{
		ID:      "stubborn",
		Command: "sh",
		Args:    []string{"-c", "trap '' TERM; sleep 60"},
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := pm.StopProcess(ctx, proc); err != nil {
		t.Fatalf("StopProcess failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("cancelled context should force kill immediately, took %s", elapsed)
	}
}

func TestProcessManager_ShutdownStopsAll(t *testing.T) {
	pm := newTestManager(time.Second)

	var procs []*ManagedProcess
	for _, id := range []string{"a", "b"} {
		proc, err := pm.Launch(context.Background(), ProcessConfig{
			ID:      id,
			Command: "sleep",
			Args:    []string{"60"},
		})
		if err != nil {
			t.Fatalf("Launch %s failed: %v", id, err)
		}
		procs = append(procs, proc)
	}

	if err := pm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	for _, p := range procs {
		if p.IsRunning() {
			t.Errorf("process %s still running after shutdown", p.ID)
		}
	}

	if _, err := pm.Launch(context.Background(), ProcessConfig{ID: "late", Command: "sleep", Args: []string{"1"}}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("expected ErrShuttingDown after shutdown, got %v", err)
	}
}

func TestProcessManager_DuplicateID(t *testing.T) {
	pm := newTestManager(time.Second)
	defer pm.Shutdown(context.Background())

	if _, err := pm.Launch(context.Background(), ProcessConfig{ID: "dup", Command: "sleep", Args: []string{"60"}}); err != nil {
		t.Fatalf("first Launch failed: %v", err)
	}
	_, err := pm.Launch(context.Background(), ProcessConfig{ID: "dup", Command: "sleep", Args: []string{"60"}})
	if !errors.Is(err, ErrProcessExists) {
		t.Errorf("expected ErrProcessExists, got %v", err)
	}
}

func TestWaitForPort_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := WaitForPort(ctx, freePort(t), 20*time.Millisecond, 10*time.Second, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline error, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "pending"},
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
