package driver

import (
	"errors"

	"github.com/standardbeagle/browsr/internal/process"
)

var (
	// ErrBinaryNotFound is returned when no browser or driver executable can be located
	// and downloading is disabled.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrNoRelease is returned when the manifest has no driver build for this platform.
	ErrNoRelease = errors.New("no driver release available")
	// ErrUnsupportedPlatform is returned for OS/arch pairs without driver builds.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrNoDebuggerURL is returned when a DevTools endpoint does not advertise a websocket URL.
	ErrNoDebuggerURL = errors.New("no DevTools websocket URL")

	// ErrPortInUse and ErrAcquisitionTimeout are the process supervisor's launch failures.
	ErrPortInUse          = process.ErrPortInUse
	ErrAcquisitionTimeout = process.ErrAcquisitionTimeout
)
