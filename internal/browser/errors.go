package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for bad coordinates, key names, directions or tab selectors.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionNotOpen is returned when an action runs before the browser is opened.
	ErrSessionNotOpen = errors.New("browser is not open")
	// ErrProtocolFailure wraps any failed WebDriver or DevTools call.
	ErrProtocolFailure = errors.New("protocol failure")
	// ErrUnsupportedOperation is returned for actions the selected protocol cannot perform.
	ErrUnsupportedOperation = errors.New("operation not supported")
)

// ActionError records which action failed and how. It matches both its
// Kind sentinel and the underlying cause with errors.Is.
type ActionError struct {
	Op   string
	Kind error
	Err  error
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidInput(op, format string, args ...any) error {
	return &ActionError{Op: op, Kind: ErrInvalidInput, Err: fmt.Errorf(format, args...)}
}

func protocolFailure(op string, err error) error {
	var ae *ActionError
	if errors.As(err, &ae) {
		return err
	}
	return &ActionError{Op: op, Kind: ErrProtocolFailure, Err: err}
}

func notOpen(op string) error {
	return &ActionError{Op: op, Kind: ErrSessionNotOpen}
}

func unsupported(op, protocol string) error {
	return &ActionError{Op: op, Kind: ErrUnsupportedOperation, Err: fmt.Errorf("tabs are not available over %s", protocol)}
}
