package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/monitorclient"
	"github.com/gmr/pg-auto-failover/internal/pgctl"
	"github.com/gmr/pg-auto-failover/internal/pidguard"
	"github.com/gmr/pg-auto-failover/internal/signals"
	"github.com/gmr/pg-auto-failover/internal/state"
)

func newTestLoop(t *testing.T, clock *int64) (*Loop, *pgctl.Fake, *monitorclient.Fake, state.StateStore, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "pg_autoctl.state")
	pidPath := filepath.Join(dir, "pg_autoctl.pid")

	store := state.NewFileStateStore(statePath)
	pg := pgctl.NewFake()
	mon := monitorclient.NewFake()
	guard := pidguard.NewFilePidGuard(pidPath)
	require.NoError(t, guard.Acquire())

	loop := &Loop{
		Config: &config.KeeperConfig{
			Formation:                      "default",
			NodeName:                       "node-a",
			PgSetup:                        config.PgSetup{PgPort: 5432},
			ReplicationSlotName:            "pgautofailover_standby",
			NetworkPartitionTimeoutSeconds: 10,
		},
		Store:     store,
		Pg:        pg,
		Monitor:   mon,
		PidGuard:  guard,
		Signals:   signals.New(),
		StartPid:  os.Getpid(),
		SleepTime: time.Millisecond,
		Now:       func() int64 { return *clock },
	}
	return loop, pg, mon, store, statePath
}

func TestTick_TransitionsOnMismatchedAssignment(t *testing.T) {
	clock := int64(1000)
	loop, pg, mon, store, _ := newTestLoop(t, &clock)

	require.NoError(t, store.Write(state.KeeperState{
		CurrentRole:  state.Init,
		AssignedRole: state.Init,
	}))
	mon.Assignment = monitorclient.Assignment{AssignedState: state.Single}

	exit, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, exit)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, state.Single, got.CurrentRole)
	assert.Equal(t, int64(1000), got.LastMonitorContact)
	assert.Equal(t, []string{"Probe", "Start", "AddDefaultSettings", "CreateMonitorUser"}, pg.Calls)
}

func TestTick_NoTransitionWhenRolesMatch(t *testing.T) {
	clock := int64(1000)
	loop, pg, mon, store, _ := newTestLoop(t, &clock)

	require.NoError(t, store.Write(state.KeeperState{
		CurrentRole:  state.Primary,
		AssignedRole: state.Primary,
	}))
	mon.Assignment = monitorclient.Assignment{AssignedState: state.Primary}
	pg.Status.IsRunning = true

	exit, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, exit)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, state.Primary, got.CurrentRole)
	// EnsureCurrentState sees pg already running for Primary: no Start/Stop call.
	assert.NotContains(t, pg.Calls, "Start")
	assert.NotContains(t, pg.Calls, "Stop")
}

func TestTick_FailedTransitionDoesNotAdvanceCurrentRole(t *testing.T) {
	clock := int64(1000)
	loop, pg, mon, store, _ := newTestLoop(t, &clock)

	require.NoError(t, store.Write(state.KeeperState{
		CurrentRole:  state.PrepPromotion,
		AssignedRole: state.StandbyPromoted,
	}))
	mon.Assignment = monitorclient.Assignment{AssignedState: state.StandbyPromoted}
	pg.PromoteErr = assertErr("promote failed")

	exit, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, exit)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, state.PrepPromotion, got.CurrentRole, "current_role must not advance on a failed transition")
}

func TestTick_MonitorUnreachableWhilePrimaryWithNoReplicaEventuallyDemotes(t *testing.T) {
	clock := int64(1000)
	loop, pg, mon, store, _ := newTestLoop(t, &clock)
	mon.NodeActiveErr = assertErr("connection refused")

	require.NoError(t, store.Write(state.KeeperState{
		CurrentRole:          state.Primary,
		AssignedRole:         state.Primary,
		LastMonitorContact:   1000,
		LastSecondaryContact: 1000,
	}))

	// Advance the clock well past the 10s timeout with no replica connected.
	clock = 1020
	exit, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, exit)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, state.DemoteTimeout, got.AssignedRole)
	// stop_postgres succeeds against the fake, so the forced Primary ->
	// DemoteTimeout edge runs to completion the same tick it is assigned.
	assert.Equal(t, state.DemoteTimeout, got.CurrentRole)
	assert.Contains(t, pg.Calls, "Stop")
}

func TestTick_MonitorUnreachableWithConnectedReplicaNeverDemotes(t *testing.T) {
	clock := int64(1000)
	loop, pg, mon, store, _ := newTestLoop(t, &clock)
	mon.NodeActiveErr = assertErr("connection refused")
	pg.HasReplicaVal = true

	require.NoError(t, store.Write(state.KeeperState{
		CurrentRole:          state.Primary,
		AssignedRole:         state.Primary,
		LastMonitorContact:   1000,
		LastSecondaryContact: 1000,
	}))

	clock = 5000
	_, err := loop.Tick(context.Background())
	require.NoError(t, err)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, state.Primary, got.AssignedRole)
	assert.Equal(t, int64(5000), got.LastSecondaryContact)
}

func TestTick_PidConflictIsFatalAndDoesNotWriteState(t *testing.T) {
	clock := int64(1000)
	loop, _, _, store, statePath := newTestLoop(t, &clock)
	pidPath := filepath.Join(filepath.Dir(statePath), "pg_autoctl.pid")

	require.NoError(t, store.Write(state.KeeperState{CurrentRole: state.Single, AssignedRole: state.Single}))

	// Simulate an operator overwriting the pid file with another process.
	require.NoError(t, os.WriteFile(pidPath, []byte("999999999\n"), 0o644))

	before, err := store.Read()
	require.NoError(t, err)

	_, err = loop.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, kerrors.PidConflict, kerrors.KindOf(err))

	after, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, before, after, "state must be untouched after a pid conflict")
}

func TestTick_GracefulStopRequestedBeforeTickExits(t *testing.T) {
	clock := int64(1000)
	loop, _, mon, store, _ := newTestLoop(t, &clock)
	mon.Assignment = monitorclient.Assignment{AssignedState: state.Single}

	require.NoError(t, store.Write(state.KeeperState{CurrentRole: state.Single, AssignedRole: state.Single}))
	loop.Signals.RequestStop()

	exit, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, exit)
}

func TestTick_FastStopExitsWithoutWritingState(t *testing.T) {
	clock := int64(1000)
	loop, _, mon, store, _ := newTestLoop(t, &clock)
	mon.Assignment = monitorclient.Assignment{AssignedState: state.Single}

	require.NoError(t, store.Write(state.KeeperState{CurrentRole: state.Init, AssignedRole: state.Init}))
	loop.Signals.RequestStopFast()

	before, err := store.Read()
	require.NoError(t, err)

	exit, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, exit)

	after, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

type fakeMirror struct {
	calls []state.KeeperState
	ids   []uuid.UUID
	err   error
}

func (m *fakeMirror) Mirror(_ context.Context, k state.KeeperState, writeID uuid.UUID) error {
	m.calls = append(m.calls, k)
	m.ids = append(m.ids, writeID)
	return m.err
}

func TestTick_MirrorsEveryPersistedWriteWithDistinctTickIDs(t *testing.T) {
	clock := int64(1000)
	loop, _, mon, store, _ := newTestLoop(t, &clock)
	mirror := &fakeMirror{}
	loop.Mirror = mirror

	require.NoError(t, store.Write(state.KeeperState{CurrentRole: state.Init, AssignedRole: state.Init}))
	mon.Assignment = monitorclient.Assignment{AssignedState: state.Single}

	_, err := loop.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, mirror.calls, 1)
	assert.Equal(t, state.Single, mirror.calls[0].CurrentRole)

	clock = 1001
	_, err = loop.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, mirror.ids, 2)
	assert.NotEqual(t, mirror.ids[0], mirror.ids[1], "each tick must mint its own correlation id")
}

func TestTick_MirrorFailureDoesNotFailTheTick(t *testing.T) {
	clock := int64(1000)
	loop, _, mon, store, _ := newTestLoop(t, &clock)
	loop.Mirror = &fakeMirror{err: assertErr("dynamodb unreachable")}

	require.NoError(t, store.Write(state.KeeperState{CurrentRole: state.Init, AssignedRole: state.Init}))
	mon.Assignment = monitorclient.Assignment{AssignedState: state.Single}

	exit, err := loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, exit)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
