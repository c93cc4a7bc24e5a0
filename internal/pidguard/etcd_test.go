package pidguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

func TestEtcdPidGuard_CheckFailsBeforeAcquire(t *testing.T) {
	g := NewEtcdPidGuard(nil, "/pg-keeperd/default/node1/pidguard", "node1:1", 0)

	err := g.Check(1)
	require.Error(t, err)
	assert.Equal(t, kerrors.PidConflict, kerrors.KindOf(err))
}

func TestEtcdPidGuard_DoneClosedBeforeAcquire(t *testing.T) {
	g := NewEtcdPidGuard(nil, "/pg-keeperd/default/node1/pidguard", "node1:1", 0)

	select {
	case <-g.Done():
	default:
		t.Fatal("Done() channel should already be closed before Acquire")
	}
}

func TestEtcdPidGuard_ReleaseNoopsBeforeAcquire(t *testing.T) {
	g := NewEtcdPidGuard(nil, "/pg-keeperd/default/node1/pidguard", "node1:1", 0)
	assert.NoError(t, g.Release())
}

// Acquire/Check/Release against a live election require a running etcd
// cluster; no test in this repository covers them.
var _ Guard = (*EtcdPidGuard)(nil)
