// Package fsm is the node state machine: the table of legal (from, to)
// role transitions and the ordered action program bound to each edge. It
// has no knowledge of timers, the monitor protocol, or persistence --
// those live in internal/reconcile. Transition only decides what to run
// and in what order; Execute runs it against a PgController.
package fsm

import (
	"context"
	"fmt"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/pgctl"
	"github.com/gmr/pg-auto-failover/internal/state"
)

// ActionKind is one step of an action program. Each kind maps to exactly
// one PgController call (EnableSyncRep only when
// Env.SyncReplicationRequired is set).
type ActionKind int

const (
	StartPostgres ActionKind = iota
	StopPostgres
	PromotePostgres
	RewindPostgres
	InitStandby
	AddDefaultSettings
	CreateReplicationSlot
	CreateReplicationUser
	CreateMonitorUser
	AddStandbyToHBA
	EnableSyncRep
	DisableSyncRep
)

func (k ActionKind) String() string {
	switch k {
	case StartPostgres:
		return "start_postgres"
	case StopPostgres:
		return "stop_postgres"
	case PromotePostgres:
		return "promote_postgres"
	case RewindPostgres:
		return "rewind_postgres"
	case InitStandby:
		return "init_standby"
	case AddDefaultSettings:
		return "add_default_settings"
	case CreateReplicationSlot:
		return "create_replication_slot"
	case CreateReplicationUser:
		return "create_replication_user"
	case CreateMonitorUser:
		return "create_monitor_user"
	case AddStandbyToHBA:
		return "add_standby_to_hba"
	case EnableSyncRep:
		return "enable_sync_rep"
	case DisableSyncRep:
		return "disable_sync_rep"
	default:
		return fmt.Sprintf("unknown_action(%d)", int(k))
	}
}

// Action is one entry of an action program.
type Action struct {
	Kind ActionKind
}

// Program is the ordered action sequence bound to one (from, to) edge.
type Program []Action

// Env carries the connection and naming parameters an action program needs
// that aren't implied by the (from, to) pair alone: who the current (or
// new) primary is, what the replication slot/user are called, and which
// standby is being admitted to pg_hba.conf. ReconcileLoop fills in the
// primary, replication and monitor fields from KeeperConfig and the
// monitor's assignment before calling Execute; it leaves StandbyHost,
// StandbyCIDR and SyncReplicationRequired at their zero values.
type Env struct {
	PrimaryHost     string
	PrimaryPort     int
	ReplicationUser string
	ReplicationPass string
	ReplicationSlot string
	MonitorUser     string
	MonitorPass     string
	StandbyHost     string
	StandbyCIDR     string

	// SyncReplicationRequired gates EnableSyncRep actions: when false, a
	// WaitPrimary->Primary or StandbyPromoted->Primary edge skips turning
	// synchronous replication on. ReconcileLoop never sets it.
	SyncReplicationRequired bool
}

type edge struct {
	from, to state.NodeState
}

// table holds every edge the FSM recognizes, *except* the `* -> Maintenance`
// and `Maintenance -> *` wildcard pairs, which Transition handles directly
// because they apply uniformly across every other state.
var table = map[edge]Program{
	{state.Init, state.Single}: {
		{StartPostgres}, {AddDefaultSettings}, {CreateMonitorUser},
	},
	{state.Init, state.WaitStandby}: {
		{InitStandby},
	},
	{state.WaitStandby, state.CatchingUp}: {},

	{state.Single, state.WaitPrimary}: {
		{CreateReplicationSlot}, {CreateReplicationUser}, {AddStandbyToHBA},
	},
	{state.WaitPrimary, state.Primary}: {
		{EnableSyncRep},
	},

	{state.Primary, state.Draining}: {
		{DisableSyncRep}, {StopPostgres},
	},
	{state.Draining, state.Demoted}: {},

	{state.Demoted, state.CatchingUp}: {
		{RewindPostgres}, {InitStandby},
	},
	{state.CatchingUp, state.Secondary}: {},

	{state.Secondary, state.StopReplication}: {},
	{state.StopReplication, state.PrepPromotion}: {},
	{state.PrepPromotion, state.StandbyPromoted}: {
		{PromotePostgres},
	},
	{state.StandbyPromoted, state.Primary}: {
		{AddDefaultSettings}, {EnableSyncRep},
	},

	// Forced by PartitionDetector; never chosen directly by the monitor.
	{state.Primary, state.DemoteTimeout}: {
		{StopPostgres},
	},
	{state.DemoteTimeout, state.Demoted}: {},

	// Re-admission after a partition heals and the monitor reassigns.
	{state.Demoted, state.WaitStandby}: {
		{InitStandby},
	},
}

// Edge names one legal (from, to) pair, for callers (the `do fsm list` CLI
// primitive) that want to enumerate the table rather than look up a single
// entry.
type Edge struct {
	From, To state.NodeState
}

// Edges returns every (from, to) pair the FSM recognizes, excluding the
// `* -> Maintenance`/`Maintenance -> *` wildcards that Transition handles
// outside the table.
func Edges() []Edge {
	edges := make([]Edge, 0, len(table))
	for e := range table {
		edges = append(edges, Edge{From: e.from, To: e.to})
	}
	return edges
}

// Transition looks up the action program for the (from, to) pair. It
// returns a *kerrors.Error of kind TransitionFailure for any pair not in
// the table, including the identity pair (current_role == assigned_role,
// which ReconcileLoop never passes here -- see the tie-break rule in
// EnsureCurrentState).
func Transition(from, to state.NodeState) (Program, error) {
	if !from.Valid() || !to.Valid() {
		return nil, kerrors.New(kerrors.TransitionFailure, "fsm.Transition",
			fmt.Errorf("invalid state in transition %s -> %s", from, to))
	}

	if to == state.Maintenance && from != state.Maintenance {
		return Program{{StopPostgres}}, nil
	}
	if from == state.Maintenance && to != state.Maintenance {
		return Program{{StartPostgres}}, nil
	}

	prog, ok := table[edge{from, to}]
	if !ok {
		return nil, kerrors.New(kerrors.TransitionFailure, "fsm.Transition",
			fmt.Errorf("no legal transition %s -> %s", from, to))
	}
	return prog, nil
}

// Execute runs prog against pg in order, stopping at the first failing
// step. On any failure the caller must not advance current_role: Execute
// never runs a step twice and never skips ahead, so partial failure always
// leaves the keeper in a state where retrying the whole program next tick
// is safe (every action is idempotent from PostgreSQL's point of view,
// e.g. CREATE USER IF NOT EXISTS semantics are the controller's job, not
// the FSM's).
func Execute(ctx context.Context, pg pgctl.PgController, prog Program, env Env) error {
	for _, action := range prog {
		if err := runAction(ctx, pg, action, env); err != nil {
			return kerrors.New(kerrors.TransitionFailure, fmt.Sprintf("fsm.Execute(%s)", action.Kind), err)
		}
	}
	return nil
}

func runAction(ctx context.Context, pg pgctl.PgController, action Action, env Env) error {
	switch action.Kind {
	case StartPostgres:
		return pg.Start(ctx)
	case StopPostgres:
		return pg.Stop(ctx)
	case PromotePostgres:
		return pg.Promote(ctx)
	case RewindPostgres:
		return pg.RewindTo(ctx, env.PrimaryHost, env.PrimaryPort)
	case InitStandby:
		return pg.InitStandby(ctx, env.PrimaryHost, env.PrimaryPort, env.ReplicationUser)
	case AddDefaultSettings:
		return pg.AddDefaultSettings(ctx)
	case CreateReplicationSlot:
		return pg.CreateReplicationSlot(ctx, env.ReplicationSlot)
	case CreateReplicationUser:
		return pg.CreateReplicationUser(ctx, env.ReplicationUser, env.ReplicationPass)
	case CreateMonitorUser:
		return pg.CreateMonitorUser(ctx, env.MonitorUser, env.MonitorPass)
	case AddStandbyToHBA:
		return pg.AddStandbyToHBA(ctx, env.StandbyHost, env.StandbyCIDR)
	case EnableSyncRep:
		if !env.SyncReplicationRequired {
			return nil
		}
		return pg.EnableSyncRep(ctx)
	case DisableSyncRep:
		return pg.DisableSyncRep(ctx)
	default:
		return fmt.Errorf("unhandled action kind %s", action.Kind)
	}
}

// EnsureCurrentState idempotently reconciles side effects implied by role,
// independent of whether a transition ran this tick. This is the tie-break
// path: when current_role == assigned_role, ReconcileLoop calls this
// instead of Transition/Execute.
func EnsureCurrentState(ctx context.Context, pg pgctl.PgController, role state.NodeState, status pgctl.Status) error {
	wantRunning := pgShouldBeRunning(role)
	if wantRunning && !status.IsRunning {
		return pg.Start(ctx)
	}
	if !wantRunning && status.IsRunning {
		return pg.Stop(ctx)
	}
	return nil
}

func pgShouldBeRunning(role state.NodeState) bool {
	switch role {
	case state.Demoted, state.DemoteTimeout, state.Maintenance, state.Draining, state.Init, state.NoState:
		return false
	default:
		return true
	}
}
