package monitorlocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

func TestIsIndirect(t *testing.T) {
	assert.True(t, IsIndirect("etcd://cluster1"))
	assert.False(t, IsIndirect("postgres://monitor.example.com:5432/pg_auto_failover"))
	assert.False(t, IsIndirect(""))
}

func TestNew_RejectsMissingPrefix(t *testing.T) {
	_, err := New(nil, "etcd://")
	require.Error(t, err)
	assert.Equal(t, kerrors.ConfigInvalid, kerrors.KindOf(err))
}

func TestNew_DerivesMonitorKeyFromPrefix(t *testing.T) {
	loc, err := New(nil, "etcd://cluster1")
	require.NoError(t, err)
	assert.Equal(t, "/cluster1/monitor", loc.key)
}
