// Package monitorclient is the adapter boundary to the remote coordinator.
// The upstream monitor is itself a PostgreSQL database exposing a small set
// of SQL functions (node_active, register_node, remove_node); Client wraps
// a pgx connection to monitor_uri and calls them the same way
// internal/pgctl.Controller issues SQL against the local instance --
// connect, QueryRow/Exec, scan, wrap errors.
package monitorclient

import (
	"context"

	"github.com/gmr/pg-auto-failover/internal/state"
)

// Report is what ReconcileLoop sends on every tick: the node's own
// identity plus what it just observed about its local PostgreSQL.
type Report struct {
	Formation   string
	NodeName    string
	Port        int
	NodeID      int64
	GroupID     int32
	CurrentRole state.NodeState
	PgIsRunning bool
	WalLagBytes int64
	SyncState   string
}

// Assignment is the monitor's reply: the state it wants this node in, the
// identity it has on file for it, and -- when the node is joining or
// rewinding against a primary -- that primary's connection info, which the
// monitor tracks on behalf of the whole group so individual nodes never
// have to discover it themselves.
type Assignment struct {
	AssignedState state.NodeState
	NodeID        int64
	GroupID       int32
	PrimaryHost   string
	PrimaryPort   int
}

// RegisterResult is returned the one time a node joins a formation.
type RegisterResult struct {
	NodeID        int64
	GroupID       int32
	AssignedState state.NodeState
}

// MonitorClient is the request/response contract to the remote
// coordinator. Every method can fail only with a kerrors.Error of kind
// MonitorUnreachable -- there is no second failure mode the caller needs to
// distinguish; retry policy belongs to ReconcileLoop, not here.
type MonitorClient interface {
	NodeActive(ctx context.Context, report Report) (Assignment, error)
	Register(ctx context.Context, formation, nodename string, port int, initialState state.NodeState) (RegisterResult, error)
	Remove(ctx context.Context, nodeID int64, groupID int32) error
	ExtensionVersion(ctx context.Context) (string, error)
}
