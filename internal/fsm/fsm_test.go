package fsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmr/pg-auto-failover/internal/pgctl"
	"github.com/gmr/pg-auto-failover/internal/state"
)

func TestTransition_KnownEdges(t *testing.T) {
	cases := []struct {
		from, to state.NodeState
	}{
		{state.Init, state.Single},
		{state.Single, state.WaitPrimary},
		{state.WaitPrimary, state.Primary},
		{state.Primary, state.Draining},
		{state.Draining, state.Demoted},
		{state.Demoted, state.CatchingUp},
		{state.CatchingUp, state.Secondary},
		{state.Secondary, state.StopReplication},
		{state.StopReplication, state.PrepPromotion},
		{state.PrepPromotion, state.StandbyPromoted},
		{state.StandbyPromoted, state.Primary},
		{state.Primary, state.DemoteTimeout},
		{state.DemoteTimeout, state.Demoted},
	}
	for _, c := range cases {
		_, err := Transition(c.from, c.to)
		assert.NoError(t, err, "%s -> %s should be legal", c.from, c.to)
	}
}

func TestTransition_UnknownPairRejected(t *testing.T) {
	cases := []struct {
		from, to state.NodeState
	}{
		{state.Single, state.StandbyPromoted},
		{state.Secondary, state.Primary},
		{state.Init, state.Primary},
		{state.Primary, state.Primary},
	}
	for _, c := range cases {
		_, err := Transition(c.from, c.to)
		assert.Error(t, err, "%s -> %s should be rejected", c.from, c.to)
	}
}

func TestTransition_MaintenanceWildcards(t *testing.T) {
	prog, err := Transition(state.Secondary, state.Maintenance)
	require.NoError(t, err)
	assert.Equal(t, Program{{StopPostgres}}, prog)

	prog, err = Transition(state.Primary, state.Maintenance)
	require.NoError(t, err)
	assert.Equal(t, Program{{StopPostgres}}, prog)

	prog, err = Transition(state.Maintenance, state.Secondary)
	require.NoError(t, err)
	assert.Equal(t, Program{{StartPostgres}}, prog)
}

func TestExecute_RunsStepsInOrderAndStopsOnFailure(t *testing.T) {
	fake := pgctl.NewFake()
	fake.PromoteErr = fakeErr{}

	prog, err := Transition(state.PrepPromotion, state.StandbyPromoted)
	require.NoError(t, err)

	err = Execute(context.Background(), fake, prog, Env{})
	assert.Error(t, err)
	assert.Equal(t, []string{"Promote"}, fake.Calls)
}

func TestExecute_EnableSyncRepSkippedWhenNotRequired(t *testing.T) {
	fake := pgctl.NewFake()

	prog, err := Transition(state.WaitPrimary, state.Primary)
	require.NoError(t, err)

	require.NoError(t, Execute(context.Background(), fake, prog, Env{SyncReplicationRequired: false}))
	assert.Empty(t, fake.Calls)

	require.NoError(t, Execute(context.Background(), fake, prog, Env{SyncReplicationRequired: true}))
	assert.Equal(t, []string{"EnableSyncRep"}, fake.Calls)
}

func TestExecute_FullProgramSucceeds(t *testing.T) {
	fake := pgctl.NewFake()

	prog, err := Transition(state.Init, state.Single)
	require.NoError(t, err)

	require.NoError(t, Execute(context.Background(), fake, prog, Env{
		MonitorUser: "pgautofailover_monitor",
		MonitorPass: "s3cret",
	}))
	assert.Equal(t, []string{"Start", "AddDefaultSettings", "CreateMonitorUser"}, fake.Calls)
}

func TestEnsureCurrentState_StartsWhenRoleExpectsRunning(t *testing.T) {
	fake := pgctl.NewFake()
	fake.Status = pgctl.Status{IsRunning: false}

	require.NoError(t, EnsureCurrentState(context.Background(), fake, state.Secondary, fake.Status))
	assert.Equal(t, []string{"Start"}, fake.Calls)
}

func TestEnsureCurrentState_StopsWhenRoleExpectsStopped(t *testing.T) {
	fake := pgctl.NewFake()
	fake.Status = pgctl.Status{IsRunning: true}

	require.NoError(t, EnsureCurrentState(context.Background(), fake, state.Demoted, fake.Status))
	assert.Equal(t, []string{"Stop"}, fake.Calls)
}

func TestEnsureCurrentState_NoopWhenAlreadyCorrect(t *testing.T) {
	fake := pgctl.NewFake()
	fake.Status = pgctl.Status{IsRunning: true}

	require.NoError(t, EnsureCurrentState(context.Background(), fake, state.Primary, fake.Status))
	assert.Empty(t, fake.Calls)
}

type fakeErr struct{}

func (fakeErr) Error() string { return "promote failed" }
