package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// Start begins execution of a process.
// The process must be in StatePending.
func (pm *ProcessManager) Start(ctx context.Context, proc *ManagedProcess) error {
	if pm.shuttingDown.Load() {
		return ErrShuttingDown
	}

	// Atomic state transition: Pending -> Starting
	if !proc.CompareAndSwapState(StatePending, StateStarting) {
		return fmt.Errorf("%w: cannot start process %s (state: %s)",
			ErrInvalidState, proc.ID, proc.State())
	}

	if err := pm.Register(proc); err != nil {
		proc.SetState(StatePending)
		return err
	}

	// The child outlives the request context; Stop ends it.
	proc.cmd = exec.CommandContext(proc.ctx, proc.Command, proc.Args...)
	proc.cmd.Env = append(os.Environ(), proc.Env...)
	setProcAttr(proc.cmd)
	proc.cmd.Stdout = proc.output
	proc.cmd.Stderr = proc.output

	if err := proc.cmd.Start(); err != nil {
		proc.SetState(StateFailed)
		pm.IncrementFailed()
		pm.Remove(proc.ID)
		close(proc.done)
		return fmt.Errorf("failed to start process %s: %w", proc.ID, err)
	}

	// Windows: group the browser and its helpers so they die together
	if err := SetupJobObject(proc.cmd); err != nil {
		pm.log.WithError(err).Debug("job object setup failed")
	}

	now := time.Now()
	proc.startTime.Store(&now)
	proc.pid.Store(int32(proc.cmd.Process.Pid))
	proc.SetState(StateRunning)

	pm.wg.Add(1)
	go pm.waitForProcess(proc)

	pm.log.WithFields(logrus.Fields{
		"id":  proc.ID,
		"pid": proc.PID(),
		"cmd": proc.CommandLine(),
	}).Info("process started")

	return nil
}

// Launch starts the configured process and blocks until its port accepts
// TCP connections. The port must be free beforehand (ErrPortInUse).
// A process that never becomes ready is killed and ErrAcquisitionTimeout
// is returned.
func (pm *ProcessManager) Launch(ctx context.Context, cfg ProcessConfig) (*ManagedProcess, error) {
	if cfg.Port > 0 && PortInUse(cfg.Port) {
		return nil, fmt.Errorf("%w: 127.0.0.1:%d is already bound by another process", ErrPortInUse, cfg.Port)
	}

	proc := NewManagedProcess(cfg)
	if err := pm.Start(ctx, proc); err != nil {
		return nil, err
	}

	if cfg.Port <= 0 {
		return proc, nil
	}

	err := WaitForPort(ctx, cfg.Port, pm.config.ReadyInterval, pm.config.ReadyTimeout, proc.Done())
	if err != nil {
		_ = pm.StopProcess(context.Background(), proc)
		if out := proc.Output(); out != "" && errors.Is(err, ErrProcessExited) {
			return nil, fmt.Errorf("%s: %w\n%s", proc.ID, err, out)
		}
		return nil, fmt.Errorf("%s: %w", proc.ID, err)
	}

	pm.log.WithFields(logrus.Fields{
		"id":   proc.ID,
		"port": cfg.Port,
	}).Info("process ready")
	return proc, nil
}

// waitForProcess monitors the process until it exits.
func (pm *ProcessManager) waitForProcess(proc *ManagedProcess) {
	defer pm.wg.Done()

	err := proc.cmd.Wait()

	if proc.cmd.Process != nil {
		CleanupJobObject(proc.cmd.Process.Pid)
	}

	now := time.Now()
	proc.endTime.Store(&now)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			proc.exitCode.Store(int32(exitErr.ExitCode()))
		} else {
			proc.exitCode.Store(-1)
		}
		if proc.State() != StateStopping {
			proc.SetState(StateFailed)
			pm.IncrementFailed()
			pm.log.WithFields(logrus.Fields{
				"id":        proc.ID,
				"exit_code": proc.ExitCode(),
				"runtime":   proc.Runtime().Round(time.Millisecond),
			}).Warn("process exited unexpectedly")
		} else {
			proc.SetState(StateStopped)
		}
	} else {
		proc.exitCode.Store(0)
		proc.SetState(StateStopped)
	}

	close(proc.done)
}

// StopProcess terminates the process and waits for it to exit.
// Only the first call does any work; later calls return the first result.
func (pm *ProcessManager) StopProcess(ctx context.Context, proc *ManagedProcess) error {
	proc.stopOnce.Do(func() {
		proc.stopErr = pm.stop(ctx, proc)
		pm.Remove(proc.ID)
	})
	return proc.stopErr
}

func (pm *ProcessManager) stop(ctx context.Context, proc *ManagedProcess) error {
	if !proc.CompareAndSwapState(StateRunning, StateStopping) {
		// Already exited (or never started)
		return nil
	}

	// Check if context is already cancelled (aggressive shutdown mode)
	select {
	case <-ctx.Done():
		return pm.forceKill(proc)
	default:
	}

	if proc.cmd != nil && proc.cmd.Process != nil {
		_ = signalTerm(proc.cmd.Process.Pid)
	}

	select {
	case <-proc.done:
		proc.cancel()
		pm.log.WithFields(logrus.Fields{
			"id":      proc.ID,
			"runtime": proc.Runtime().Round(time.Millisecond),
		}).Info("process stopped")
		return nil
	case <-time.After(pm.config.GracefulTimeout):
		return pm.forceKill(proc)
	case <-ctx.Done():
		return pm.forceKill(proc)
	}
}

// forceKill kills the whole process group and waits for the exit to be reaped.
func (pm *ProcessManager) forceKill(proc *ManagedProcess) error {
	defer proc.cancel()

	if proc.cmd == nil || proc.cmd.Process == nil {
		return nil
	}

	if err := signalKill(proc.cmd.Process.Pid); err != nil && !isNoSuchProcess(err) {
		return fmt.Errorf("failed to force kill process %s: %w", proc.ID, err)
	}

	select {
	case <-proc.done:
	case <-time.After(pm.config.GracefulTimeout):
		return fmt.Errorf("process %s did not exit after kill", proc.ID)
	}

	pm.log.WithFields(logrus.Fields{
		"id":      proc.ID,
		"runtime": proc.Runtime().Round(time.Millisecond),
	}).Info("process killed")
	return nil
}
