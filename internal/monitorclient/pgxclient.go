package monitorclient

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/state"
)

// Client is the pgx-backed MonitorClient: a short-lived connection to
// monitor_uri per call, the same connect-query-scan shape
// internal/pgctl.Controller uses against the local instance. Every
// connection and query failure is reported as kerrors.MonitorUnreachable;
// the caller (ReconcileLoop) decides whether that triggers the partition
// detector.
type Client struct {
	monitorURI string
}

func NewClient(monitorURI string) *Client {
	return &Client{monitorURI: monitorURI}
}

func (c *Client) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, c.monitorURI)
	if err != nil {
		return nil, kerrors.New(kerrors.MonitorUnreachable, "monitorclient.connect", err)
	}
	return conn, nil
}

// NodeActive reports this node's state to pgautofailover.node_active() and
// returns the assignment the monitor replies with.
func (c *Client) NodeActive(ctx context.Context, report Report) (Assignment, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return Assignment{}, err
	}
	defer conn.Close(ctx)

	var assignedStateName string
	var assignment Assignment
	var primaryHost *string
	var primaryPort *int
	err = conn.QueryRow(ctx,
		`SELECT assigned_node_id, assigned_group_id, assigned_state,
		        primary_host, primary_port
		   FROM pgautofailover.node_active($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		report.Formation, report.GroupID, report.NodeID, report.NodeName, report.Port,
		report.CurrentRole.String(), report.PgIsRunning, report.WalLagBytes, report.SyncState,
	).Scan(&assignment.NodeID, &assignment.GroupID, &assignedStateName, &primaryHost, &primaryPort)
	if err != nil {
		return Assignment{}, kerrors.New(kerrors.MonitorUnreachable, "monitorclient.NodeActive", err)
	}

	assignedState, parseErr := state.ParseNodeState(assignedStateName)
	if parseErr != nil {
		return Assignment{}, kerrors.New(kerrors.MonitorUnreachable, "monitorclient.NodeActive", parseErr)
	}
	assignment.AssignedState = assignedState
	if primaryHost != nil {
		assignment.PrimaryHost = *primaryHost
	}
	if primaryPort != nil {
		assignment.PrimaryPort = *primaryPort
	}
	return assignment, nil
}

// Register enrolls a brand-new node with the monitor. The monitor hands
// back the node_id/group_id it picked plus the initial assigned_state.
func (c *Client) Register(ctx context.Context, formation, nodename string, port int, initialState state.NodeState) (RegisterResult, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return RegisterResult{}, err
	}
	defer conn.Close(ctx)

	var result RegisterResult
	var assignedStateName string
	err = conn.QueryRow(ctx,
		`SELECT assigned_node_id, assigned_group_id, assigned_state
		   FROM pgautofailover.register_node($1, $2, $3, $4)`,
		formation, nodename, port, initialState.String(),
	).Scan(&result.NodeID, &result.GroupID, &assignedStateName)
	if err != nil {
		return RegisterResult{}, kerrors.New(kerrors.MonitorUnreachable, "monitorclient.Register", err)
	}

	assignedState, parseErr := state.ParseNodeState(assignedStateName)
	if parseErr != nil {
		return RegisterResult{}, kerrors.New(kerrors.MonitorUnreachable, "monitorclient.Register", parseErr)
	}
	result.AssignedState = assignedState
	return result, nil
}

// Remove retires a node from its group, used by `pg_autoctl drop node`.
func (c *Client) Remove(ctx context.Context, nodeID int64, groupID int32) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "SELECT pgautofailover.remove_node($1, $2)", nodeID, groupID); err != nil {
		return kerrors.New(kerrors.MonitorUnreachable, "monitorclient.Remove", err)
	}
	return nil
}

// ExtensionVersion reports the pgautofailover extension version installed
// on the monitor.
func (c *Client) ExtensionVersion(ctx context.Context) (string, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close(ctx)

	var version string
	err = conn.QueryRow(ctx,
		"SELECT extversion FROM pg_extension WHERE extname = 'pgautofailover'",
	).Scan(&version)
	if err != nil {
		return "", kerrors.New(kerrors.MonitorUnreachable, "monitorclient.ExtensionVersion", err)
	}
	return version, nil
}
