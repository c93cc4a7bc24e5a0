// Package kerrors is a typed result carrying one of a fixed set of error
// kinds. The logger observes these errors; it is never the error channel
// itself.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	UnknownKind Kind = iota
	ConfigInvalid
	StateCorrupt
	PidConflict
	PgControllerFailure
	MonitorUnreachable
	TransitionFailure
	InternalError
)

func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return "config_invalid"
	case StateCorrupt:
		return "state_corrupt"
	case PidConflict:
		return "pid_conflict"
	case PgControllerFailure:
		return "pg_controller_failure"
	case MonitorUnreachable:
		return "monitor_unreachable"
	case TransitionFailure:
		return "transition_failure"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind must cause immediate process
// exit, rather than being retried on the next tick.
func (k Kind) Fatal() bool {
	switch k {
	case PidConflict, InternalError:
		return true
	default:
		return false
	}
}

// Error is a typed error carrying one of the Kind values. Use New to
// construct one and errors.As to recover the Kind from a wrapped chain.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err, returning UnknownKind if err (or
// anything it wraps) is not a *Error.
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return UnknownKind
}
