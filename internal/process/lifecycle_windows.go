//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ctrlBreakEvent is delivered to every process in the target console group.
const ctrlBreakEvent = 1

// stillActive is the exit code reported for a running process.
const stillActive = 259

var (
	// jobs maps a child pid to the job object that owns its process tree.
	// Chrome forks renderer and GPU helpers that must die with it.
	jobs sync.Map // map[int]windows.Handle

	kernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procGenerateConsoleCtrlEvent = kernel32.NewProc("GenerateConsoleCtrlEvent")
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// SetupJobObject places the started process in a kill-on-close job object.
func SetupJobObject(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}

	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return err
	}

	limits := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&limits)),
		uint32(unsafe.Sizeof(limits)),
	); err != nil {
		windows.CloseHandle(job)
		return err
	}

	handle, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(cmd.Process.Pid))
	if err != nil {
		windows.CloseHandle(job)
		return err
	}
	defer windows.CloseHandle(handle)

	if err := windows.AssignProcessToJobObject(job, handle); err != nil {
		windows.CloseHandle(job)
		return err
	}

	jobs.Store(cmd.Process.Pid, job)
	return nil
}

// CleanupJobObject releases the job handle recorded for pid.
func CleanupJobObject(pid int) {
	if v, ok := jobs.LoadAndDelete(pid); ok {
		windows.CloseHandle(v.(windows.Handle))
	}
}

// signalTerm asks the process group to exit with CTRL_BREAK.
func signalTerm(pid int) error {
	ret, _, err := procGenerateConsoleCtrlEvent.Call(uintptr(ctrlBreakEvent), uintptr(pid))
	if ret == 0 {
		return err
	}
	return nil
}

// signalKill terminates the job (and with it every helper), or the
// process alone when no job exists.
func signalKill(pid int) error {
	if v, ok := jobs.Load(pid); ok {
		if err := windows.TerminateJobObject(v.(windows.Handle), 1); err == nil {
			return nil
		}
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func isProcessAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == stillActive
}

func isNoSuchProcess(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, windows.ERROR_INVALID_PARAMETER) ||
		errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, os.ErrProcessDone)
}
