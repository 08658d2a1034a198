package process

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a managed process.
type State uint32

const (
	StatePending State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProcessConfig describes a driver or browser process to launch.
type ProcessConfig struct {
	// ID names the process in logs and in the manager registry.
	ID string
	// Command is the executable path.
	Command string
	// Args are passed to the executable verbatim.
	Args []string
	// Env is appended to the inherited environment.
	Env []string
	// Port is the TCP port the process is expected to listen on (0 = no readiness check).
	Port int
}

// ManagedProcess is a launched child process together with the port it serves.
// Stop is safe to call any number of times.
type ManagedProcess struct {
	ID      string
	Command string
	Args    []string
	Env     []string
	Port    int

	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Uint32
	pid       atomic.Int32
	exitCode  atomic.Int32
	startTime atomic.Pointer[time.Time]
	endTime   atomic.Pointer[time.Time]

	output *tailBuffer
	done   chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// NewManagedProcess creates a process record in StatePending.
func NewManagedProcess(cfg ProcessConfig) *ManagedProcess {
	ctx, cancel := context.WithCancel(context.Background())
	return &ManagedProcess{
		ID:      cfg.ID,
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		Port:    cfg.Port,
		ctx:     ctx,
		cancel:  cancel,
		output:  newTailBuffer(16 * 1024),
		done:    make(chan struct{}),
	}
}

// State returns the current state.
func (p *ManagedProcess) State() State { return State(p.state.Load()) }

// SetState stores a new state.
func (p *ManagedProcess) SetState(s State) { p.state.Store(uint32(s)) }

// CompareAndSwapState performs an atomic state transition.
func (p *ManagedProcess) CompareAndSwapState(from, to State) bool {
	return p.state.CompareAndSwap(uint32(from), uint32(to))
}

// IsRunning reports whether the process has started and not exited.
func (p *ManagedProcess) IsRunning() bool {
	s := p.State()
	return s == StateRunning || s == StateStopping
}

// PID returns the OS process id, or 0 before start.
func (p *ManagedProcess) PID() int { return int(p.pid.Load()) }

// ExitCode returns the exit code once the process has exited.
func (p *ManagedProcess) ExitCode() int { return int(p.exitCode.Load()) }

// Done is closed when the process exits.
func (p *ManagedProcess) Done() <-chan struct{} { return p.done }

// Runtime returns how long the process has been (or was) running.
func (p *ManagedProcess) Runtime() time.Duration {
	start := p.startTime.Load()
	if start == nil {
		return 0
	}
	if end := p.endTime.Load(); end != nil {
		return end.Sub(*start)
	}
	return time.Since(*start)
}

// Output returns the most recent combined stdout/stderr of the process.
func (p *ManagedProcess) Output() string { return p.output.String() }

// CommandLine renders the command for log messages.
func (p *ManagedProcess) CommandLine() string {
	return strings.TrimSpace(p.Command + " " + strings.Join(p.Args, " "))
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Alive asks the OS whether the process still exists.
func (p *ManagedProcess) Alive() bool {
	pid := p.PID()
	return pid > 0 && isProcessAlive(pid)
}
