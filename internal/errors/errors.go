// Package errors provides sentinel errors and the typed errors returned by the
// adapter. Use errors.Is() and errors.As() to check for specific kinds.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure class.
var (
	ErrConfig       = errors.New("configuration error")
	ErrConnect      = errors.New("connect error")
	ErrOperation    = errors.New("operation error")
	ErrTimeout      = errors.New("operation timed out")
	ErrDisconnect   = errors.New("disconnect error")
	ErrIO           = errors.New("io error")
	ErrDiff         = errors.New("diff error")
	ErrInvalidState = errors.New("invalid state")
)

// ConfigError reports a missing connection parameter or one the backend
// refused to accept.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("config %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config %s: invalid value", e.Field)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// ConnectError reports that the backend could not be reached or refused the
// credentials.
type ConnectError struct {
	Message string
	Err     error
}

func (e *ConnectError) Error() string {
	return "connect: " + e.Message
}

func (e *ConnectError) Is(target error) bool { return target == ErrConnect }
func (e *ConnectError) Unwrap() error        { return e.Err }

// OperationError reports a failed or timed out remote command. The session
// that produced it is still usable.
type OperationError struct {
	Operation string
	Message   string
	Timeout   bool
	Err       error
}

func (e *OperationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timed out: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

func (e *OperationError) Is(target error) bool {
	return target == ErrOperation || (e.Timeout && target == ErrTimeout)
}

func (e *OperationError) Unwrap() error { return e.Err }

// DisconnectError reports a teardown failure. The session is closed anyway.
type DisconnectError struct {
	Message string
	Err     error
}

func (e *DisconnectError) Error() string {
	return "disconnect: " + e.Message
}

func (e *DisconnectError) Is(target error) bool { return target == ErrDisconnect }
func (e *DisconnectError) Unwrap() error        { return e.Err }

// IOError reports a filesystem failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Is(target error) bool { return target == ErrIO }
func (e *IOError) Unwrap() error        { return e.Err }

// DiffReason tells why a diff could not be produced.
type DiffReason uint8

const (
	BackendUnavailable DiffReason = iota + 1
	FetchFailed
	OutsideProject
)

func (r DiffReason) String() string {
	switch r {
	case BackendUnavailable:
		return "backend unavailable"
	case FetchFailed:
		return "baseline fetch failed"
	case OutsideProject:
		return "path outside project"
	default:
		return "unknown"
	}
}

// DiffError reports a line diff that could not be computed.
type DiffError struct {
	Reason DiffReason
	Path   string
	Err    error
}

func (e *DiffError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("diff %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("diff %s: %s", e.Path, e.Reason)
}

func (e *DiffError) Is(target error) bool { return target == ErrDiff }
func (e *DiffError) Unwrap() error        { return e.Err }

// InvalidStateError reports a call made in a state that forbids it. It always
// points at a caller bug and must not be retried.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: not allowed in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(op string, state fmt.Stringer) *InvalidStateError {
	return &InvalidStateError{Op: op, State: state.String()}
}
