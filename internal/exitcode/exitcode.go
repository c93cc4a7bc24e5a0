// Package exitcode holds the stable process exit codes of the keeper CLI.
package exitcode

import "github.com/gmr/pg-auto-failover/internal/kerrors"

const (
	OK            = 0
	Quit          = 6
	BadArgs       = 7
	BadConfig     = 8
	BadState      = 9
	Pgsql         = 10
	Pgctl         = 11
	Monitor       = 12
	InternalError = 13
)

// FromKind maps a kerrors.Kind to its stable process exit code.
// ConfigInvalid and StateCorrupt get distinct codes (BadConfig, BadState);
// PgControllerFailure and TransitionFailure share Pgctl. InternalError and
// any unlisted Kind, UnknownKind included, map to InternalError.
func FromKind(kind kerrors.Kind) int {
	switch kind {
	case kerrors.ConfigInvalid:
		return BadConfig
	case kerrors.StateCorrupt:
		return BadState
	case kerrors.PidConflict:
		return Quit
	case kerrors.PgControllerFailure:
		return Pgctl
	case kerrors.MonitorUnreachable:
		return Monitor
	case kerrors.TransitionFailure:
		return Pgctl
	case kerrors.InternalError:
		return InternalError
	default:
		return InternalError
	}
}
