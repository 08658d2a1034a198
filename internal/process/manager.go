package process

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrProcessExists is returned when trying to register a process with an existing ID.
	ErrProcessExists = errors.New("process already exists")
	// ErrInvalidState is returned when an operation is invalid for the current state.
	ErrInvalidState = errors.New("invalid process state for operation")
	// ErrShuttingDown is returned when the manager is shutting down.
	ErrShuttingDown = errors.New("process manager is shutting down")
	// ErrPortInUse is returned when the target port already answers before launch.
	ErrPortInUse = errors.New("port already in use")
	// ErrAcquisitionTimeout is returned when a launched process never opens its port.
	ErrAcquisitionTimeout = errors.New("timed out waiting for process to accept connections")
	// ErrProcessExited is returned when a process dies while we wait for its port.
	ErrProcessExited = errors.New("process exited")
)

// ManagerConfig holds configuration for the ProcessManager.
type ManagerConfig struct {
	// GracefulTimeout is how long to wait for graceful shutdown before SIGKILL.
	GracefulTimeout time.Duration
	// ReadyTimeout bounds the port readiness poll after launch.
	ReadyTimeout time.Duration
	// ReadyInterval is the delay between readiness attempts.
	ReadyInterval time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		GracefulTimeout: 5 * time.Second,
		ReadyTimeout:    DefaultReadyTimeout,
		ReadyInterval:   DefaultReadyInterval,
	}
}

// ProcessManager launches driver and browser processes and guarantees
// they are torn down exactly once.
type ProcessManager struct {
	processes sync.Map // map[string]*ManagedProcess

	activeCount  atomic.Int64
	totalStarted atomic.Int64
	totalFailed  atomic.Int64

	config ManagerConfig
	log    logrus.FieldLogger

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// NewProcessManager creates a new ProcessManager with the given configuration.
func NewProcessManager(config ManagerConfig, log logrus.FieldLogger) *ProcessManager {
	if config.GracefulTimeout <= 0 {
		config.GracefulTimeout = 5 * time.Second
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = DefaultReadyTimeout
	}
	if config.ReadyInterval <= 0 {
		config.ReadyInterval = DefaultReadyInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ProcessManager{
		config: config,
		log:    log.WithField("component", "process"),
	}
}

// Register adds a new process to the registry.
func (pm *ProcessManager) Register(proc *ManagedProcess) error {
	if pm.shuttingDown.Load() {
		return ErrShuttingDown
	}
	if _, loaded := pm.processes.LoadOrStore(proc.ID, proc); loaded {
		return ErrProcessExists
	}
	pm.activeCount.Add(1)
	pm.totalStarted.Add(1)
	return nil
}

// Remove deletes a process from the registry.
func (pm *ProcessManager) Remove(id string) bool {
	if _, ok := pm.processes.LoadAndDelete(id); ok {
		pm.activeCount.Add(-1)
		return true
	}
	return false
}

// List returns all registered processes.
func (pm *ProcessManager) List() []*ManagedProcess {
	var procs []*ManagedProcess
	pm.processes.Range(func(_, value any) bool {
		procs = append(procs, value.(*ManagedProcess))
		return true
	})
	return procs
}

// ActiveCount returns the number of registered processes.
func (pm *ProcessManager) ActiveCount() int64 { return pm.activeCount.Load() }

// TotalStarted returns how many processes were ever registered.
func (pm *ProcessManager) TotalStarted() int64 { return pm.totalStarted.Load() }

// TotalFailed returns how many processes failed to start or exited non-zero.
func (pm *ProcessManager) TotalFailed() int64 { return pm.totalFailed.Load() }

// IncrementFailed increments the failure counter.
func (pm *ProcessManager) IncrementFailed() { pm.totalFailed.Add(1) }

// Config returns the manager configuration.
func (pm *ProcessManager) Config() ManagerConfig { return pm.config }

// Shutdown stops every managed process. Safe to call more than once.
func (pm *ProcessManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	pm.shutdownOnce.Do(func() {
		pm.shuttingDown.Store(true)

		var stopWg sync.WaitGroup
		var errMu sync.Mutex
		var errs []error

		for _, proc := range pm.List() {
			stopWg.Add(1)
			go func(p *ManagedProcess) {
				defer stopWg.Done()
				if err := pm.StopProcess(ctx, p); err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
			}(proc)
		}

		stopWg.Wait()
		pm.wg.Wait()

		if len(errs) > 0 {
			shutdownErr = errors.Join(errs...)
		}
		pm.log.WithFields(logrus.Fields{
			"started": pm.TotalStarted(),
			"failed":  pm.TotalFailed(),
			"errors":  len(errs),
		}).Debug("process manager stopped")
	})

	return shutdownErr
}
