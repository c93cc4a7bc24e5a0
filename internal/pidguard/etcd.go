package pidguard

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

// EtcdPidGuard enforces single-keeper ownership across a fleet that already
// runs etcd for other coordination, using the same
// concurrency.NewSession/NewElection/Campaign primitives, repurposed here
// as a mutual-exclusion lock rather than a leadership handoff: there is
// exactly one legitimate "leader" (this keeper), and losing the campaign
// means a conflicting instance is already running.
type EtcdPidGuard struct {
	client   *clientv3.Client
	key      string
	ttl      time.Duration
	identity string

	session  *concurrency.Session
	election *concurrency.Election
	cancel   context.CancelFunc
}

func NewEtcdPidGuard(client *clientv3.Client, key, identity string, ttl time.Duration) *EtcdPidGuard {
	return &EtcdPidGuard{client: client, key: key, identity: identity, ttl: ttl}
}

// Acquire campaigns for the lock and blocks until it either wins or the
// underlying session dial fails. A losing campaign never happens here
// because Campaign blocks until it wins or ctx is canceled; instead,
// conflicting ownership is detected by Leader finding a different identity
// already holding the key before we campaign. Acquire takes no context,
// matching pidguard.Guard, the same interface FilePidGuard implements; the
// campaign itself runs against context.Background() so a caller can't
// accidentally abandon a half-acquired lock by canceling the context that
// started Run.
func (g *EtcdPidGuard) Acquire() error {
	session, err := concurrency.NewSession(g.client, concurrency.WithTTL(int(g.ttl.Seconds())))
	if err != nil {
		return kerrors.New(kerrors.InternalError, "pidguard.EtcdPidGuard.Acquire", err)
	}

	election := concurrency.NewElection(session, g.key)

	ctx := context.Background()
	if holder, err := election.Leader(ctx); err == nil && holder != nil && len(holder.Kvs) > 0 {
		if string(holder.Kvs[0].Value) != g.identity {
			session.Close()
			return kerrors.New(kerrors.PidConflict, "pidguard.EtcdPidGuard.Acquire",
				fmt.Errorf("lock %q already held by %q", g.key, string(holder.Kvs[0].Value)))
		}
	}

	campaignCtx, cancel := context.WithCancel(ctx)
	if err := election.Campaign(campaignCtx, g.identity); err != nil {
		cancel()
		session.Close()
		return kerrors.New(kerrors.InternalError, "pidguard.EtcdPidGuard.Acquire", err)
	}

	g.session = session
	g.election = election
	g.cancel = cancel
	return nil
}

// Check confirms this process still holds the lock: the etcd session hasn't
// expired and the election's current leader is still our identity. It plays
// the same role FilePidGuard.Check plays at the top of every reconcile tick;
// startPid is accepted only to satisfy pidguard.Guard -- an etcd lock has no
// PID to compare against.
func (g *EtcdPidGuard) Check(startPid int) error {
	if g.session == nil || g.election == nil {
		return kerrors.New(kerrors.PidConflict, "pidguard.EtcdPidGuard.Check",
			fmt.Errorf("lock %q was never acquired", g.key))
	}

	select {
	case <-g.session.Done():
		return kerrors.New(kerrors.PidConflict, "pidguard.EtcdPidGuard.Check",
			fmt.Errorf("etcd session for lock %q expired", g.key))
	default:
	}

	holder, err := g.election.Leader(context.Background())
	if err != nil {
		return kerrors.New(kerrors.PidConflict, "pidguard.EtcdPidGuard.Check", err)
	}
	if holder == nil || len(holder.Kvs) == 0 || string(holder.Kvs[0].Value) != g.identity {
		return kerrors.New(kerrors.PidConflict, "pidguard.EtcdPidGuard.Check",
			fmt.Errorf("lock %q is no longer held by this process", g.key))
	}
	return nil
}

// Release resigns the election and closes the session, releasing the lock
// for the next campaigner.
func (g *EtcdPidGuard) Release() error {
	if g.election != nil {
		_ = g.election.Resign(context.Background())
	}
	if g.cancel != nil {
		g.cancel()
	}
	if g.session != nil {
		return g.session.Close()
	}
	return nil
}

// Done returns a channel that is closed when the underlying etcd session
// expires, signaling that this process may no longer hold the lock and must
// treat itself as having lost ownership (the same "monitor session.Done()"
// follow-up).
func (g *EtcdPidGuard) Done() <-chan struct{} {
	if g.session == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return g.session.Done()
}
