// Package reconcile drives one node's convergence toward whatever state
// the monitor assigns it. Loop.Run ticks forever; each tick reads state,
// probes PostgreSQL, calls the monitor, and -- if the assigned role
// differs from the current one -- runs the FSM's action program for that
// edge. Loop has no notion of HTTP or process supervision; Supervisor owns
// wiring this loop alongside internal/httpd.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/fsm"
	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/monitorclient"
	"github.com/gmr/pg-auto-failover/internal/partition"
	"github.com/gmr/pg-auto-failover/internal/pgctl"
	"github.com/gmr/pg-auto-failover/internal/pidguard"
	"github.com/gmr/pg-auto-failover/internal/signals"
	"github.com/gmr/pg-auto-failover/internal/state"
)

// StateMirror is the optional post-write hook Loop calls after every
// successfully persisted tick, implemented by
// internal/state.DynamoDBMirror. writeID is the tick's correlation id, so
// the mirrored record can be matched back to the log line that produced it.
type StateMirror interface {
	Mirror(ctx context.Context, k state.KeeperState, writeID uuid.UUID) error
}

// monitorCallTimeout bounds the node_active call so a single tick never
// blocks much longer than SleepTime, per the concurrency model's
// requirement that the monitor call carry a connect/statement timeout.
const monitorCallTimeout = 5 * time.Second

// Loop is the per-node reconciliation loop.
type Loop struct {
	Config   *config.KeeperConfig
	Store    state.StateStore
	Pg       pgctl.PgController
	Monitor  monitorclient.MonitorClient
	PidGuard pidguard.Guard
	Signals  *signals.Intake
	StartPid int

	// Mirror, if set, receives every successfully persisted KeeperState
	// alongside its tick's correlation id. Nil by default; `run
	// --dynamo-table` plugs in a *state.DynamoDBMirror.
	Mirror StateMirror

	// SleepTime is PG_AUTOCTL_KEEPER_SLEEP_TIME: how long the loop waits
	// between ticks when the previous tick made no transition.
	SleepTime time.Duration

	// Now returns the current epoch-seconds clock; overridable in tests.
	// Defaults to time.Now().Unix() if left nil.
	Now func() int64

	transitionedLastTick bool
	primaryHost          string
	primaryPort          int
}

func (l *Loop) now() int64 {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().Unix()
}

// Run ticks until a graceful or fast stop is requested, or a fatal error
// occurs (PidConflict, InternalError). It never returns a non-fatal error:
// PgControllerFailure, MonitorUnreachable and TransitionFailure are all
// logged and swallowed so the loop keeps ticking.
func (l *Loop) Run(ctx context.Context) error {
	for {
		exit, err := l.Tick(ctx)
		if err != nil {
			return err
		}
		if exit {
			return nil
		}
	}
}

// Tick runs one reconciliation cycle. It returns (true, nil) when the loop
// should exit cleanly, and (false, err) only for a fatal error the caller
// must propagate (PidConflict, InternalError).
func (l *Loop) Tick(ctx context.Context) (bool, error) {
	tickID := uuid.New()
	log.Printf("reconcile: tick %s starting", tickID)
	defer log.Printf("reconcile: tick %s done", tickID)

	// Step 1: honor reload.
	if l.Signals.ConsumeReload() {
		if err := l.Config.Reload(); err != nil {
			log.Printf("reconcile: config reload failed, keeping current config: %v", err)
		}
	}

	// Step 2: honor graceful stop.
	if l.Signals.StopRequested() {
		return true, nil
	}

	// Step 3: sleep, unless the previous tick made progress.
	if !l.transitionedLastTick {
		select {
		case <-ctx.Done():
			return true, nil
		case <-time.After(l.sleepTime()):
		}
	}
	l.transitionedLastTick = false

	// Step 4: pid guard. A stolen or missing pid file is fatal and the
	// caller must exit without touching state.
	if err := l.PidGuard.Check(l.StartPid); err != nil {
		return false, err
	}

	if l.Signals.StopFastRequested() {
		return true, nil
	}

	// Step 5: read state.
	st, err := l.Store.Read()
	if err != nil {
		log.Printf("reconcile: read state failed, skipping tick: %v", err)
		return false, nil
	}

	if l.Signals.StopFastRequested() {
		return true, nil
	}

	// Step 6: refresh the local Postgres probe.
	status, probeErr := l.Pg.Probe(ctx)
	if probeErr != nil {
		log.Printf("reconcile: postgres probe failed: %v", probeErr)
	} else {
		st.PgIsRunning = status.IsRunning
		st.XlogLagBytes = status.WalLagBytes
		st.SyncState = status.SyncState
	}

	if l.Signals.StopFastRequested() {
		return true, nil
	}

	now := l.now()

	// Step 7: call the monitor.
	reached, assignErr := l.callMonitor(ctx, &st, now)
	if assignErr != nil {
		log.Printf("reconcile: monitor unreachable: %v", assignErr)
	}

	if l.Signals.StopFastRequested() {
		return true, nil
	}

	// Step 8: idempotent reconciliation when the monitor was reached.
	if reached {
		if err := fsm.EnsureCurrentState(ctx, l.Pg, st.CurrentRole, status); err != nil {
			log.Printf("reconcile: ensure_current_state failed: %v", err)
		}
	}

	if l.Signals.StopFastRequested() {
		return true, nil
	}

	// Step 9: drive a transition if assigned and current roles disagree.
	if st.AssignedRole != st.CurrentRole {
		if l.transition(ctx, &st) {
			l.transitionedLastTick = true
		}
	}

	if l.Signals.StopFastRequested() {
		return true, nil
	}

	// Step 10: persist regardless of transition outcome, so partition
	// timers (last_monitor_contact, last_secondary_contact) advance even
	// on a tick that made no progress.
	if err := l.Store.Write(st); err != nil {
		log.Printf("reconcile: write state failed: %v", err)
	} else if l.Mirror != nil {
		if err := l.Mirror.Mirror(ctx, st, tickID); err != nil {
			log.Printf("reconcile: dynamodb mirror failed: %v", err)
		}
	}

	// Step 11: final fast-stop check.
	if l.Signals.StopFastRequested() {
		return true, nil
	}

	return false, nil
}

func (l *Loop) sleepTime() time.Duration {
	if l.SleepTime <= 0 {
		return time.Second
	}
	return l.SleepTime
}

// callMonitor reports the node's state and applies the monitor's reply.
// On failure while current_role is Primary, it runs the partition
// detector and may force assigned_role = DemoteTimeout.
func (l *Loop) callMonitor(ctx context.Context, st *state.KeeperState, now int64) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, monitorCallTimeout)
	defer cancel()

	assignment, err := l.Monitor.NodeActive(callCtx, monitorclient.Report{
		Formation:   l.Config.Formation,
		NodeName:    l.Config.NodeName,
		Port:        l.Config.PgSetup.PgPort,
		NodeID:      st.CurrentNodeID,
		GroupID:     st.CurrentGroup,
		CurrentRole: st.CurrentRole,
		PgIsRunning: st.PgIsRunning,
		WalLagBytes: st.XlogLagBytes,
		SyncState:   st.SyncState,
	})
	if err == nil {
		st.LastMonitorContact = now
		st.AssignedRole = assignment.AssignedState
		l.primaryHost = assignment.PrimaryHost
		l.primaryPort = assignment.PrimaryPort
		return true, nil
	}

	if st.CurrentRole != state.Primary {
		return false, err
	}

	hasReplica, probeErr := l.Pg.HasReplica(ctx, replicationUserOrDefault(l.Config.ReplicationSlotName))
	if probeErr != nil {
		log.Printf("reconcile: has_replica probe failed: %v", probeErr)
		hasReplica = false
	}

	decision := partition.Evaluate(now, st.LastMonitorContact, st.LastSecondaryContact,
		l.Config.NetworkPartitionTimeoutSeconds, hasReplica)
	st.LastSecondaryContact = decision.LastSecondaryContact
	if decision.Partitioned {
		st.AssignedRole = state.DemoteTimeout
	}

	return false, err
}

// transition attempts FSM.Transition/Execute for the current edge and
// reports whether it succeeded. current_role only ever advances on
// success; any failure leaves st untouched so the next tick retries the
// whole program from the start.
func (l *Loop) transition(ctx context.Context, st *state.KeeperState) bool {
	prog, err := fsm.Transition(st.CurrentRole, st.AssignedRole)
	if err != nil {
		log.Printf("reconcile: no legal transition %s -> %s: %v", st.CurrentRole, st.AssignedRole, err)
		return false
	}

	env := l.env()
	if err := fsm.Execute(ctx, l.Pg, prog, env); err != nil {
		log.Printf("reconcile: transition %s -> %s failed: %v", st.CurrentRole, st.AssignedRole, err)
		return false
	}

	st.CurrentRole = st.AssignedRole
	return true
}

func (l *Loop) env() fsm.Env {
	return fsm.Env{
		PrimaryHost:     l.primaryHost,
		PrimaryPort:     l.primaryPort,
		ReplicationUser: replicationUserOrDefault(l.Config.ReplicationSlotName),
		ReplicationPass: l.Config.ReplicationPassword,
		ReplicationSlot: l.Config.ReplicationSlotName,
		MonitorUser:     "pgautofailover_monitor",
		MonitorPass:     l.Config.ReplicationPassword,
	}
}

func replicationUserOrDefault(slot string) string {
	if slot == "" {
		return "pgautofailover_replicator"
	}
	return fmt.Sprintf("pgautofailover_r_%s", slot)
}

// FatalExitKind returns the exit-code-relevant kerrors.Kind for an error
// returned from Run, or kerrors.UnknownKind if err is nil or not fatal.
func FatalExitKind(err error) kerrors.Kind {
	if err == nil {
		return kerrors.UnknownKind
	}
	if k := kerrors.KindOf(err); k.Fatal() {
		return k
	}
	return kerrors.UnknownKind
}
