package monitorclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/state"
)

func TestFake_ImplementsMonitorClient(t *testing.T) {
	var _ MonitorClient = NewFake()
}

func TestFake_NodeActiveRecordsReportAndReturnsAssignment(t *testing.T) {
	f := NewFake()
	f.Assignment = Assignment{AssignedState: state.Secondary, NodeID: 1, GroupID: 0}

	got, err := f.NodeActive(context.Background(), Report{NodeName: "node-a"})
	require.NoError(t, err)
	assert.Equal(t, state.Secondary, got.AssignedState)
	assert.Len(t, f.Reports, 1)
	assert.Equal(t, "node-a", f.Reports[0].NodeName)
}

func TestFake_NodeActiveErrIsMonitorUnreachable(t *testing.T) {
	f := NewFake()
	f.NodeActiveErr = errors.New("connection refused")

	_, err := f.NodeActive(context.Background(), Report{})
	require.Error(t, err)
	assert.Equal(t, kerrors.MonitorUnreachable, kerrors.KindOf(err))
}
