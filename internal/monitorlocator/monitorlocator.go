// Package monitorlocator resolves KeeperConfig's monitor_uri when it
// names an etcd-backed indirection ("etcd://<prefix>") instead of a static
// connection string: the monitor's address is read from the etcd key
// "/<prefix>/monitor", so a changed address needs no config edit. Each
// Resolve call re-reads the key; cmd/pg-keeperd resolves it once when a
// command starts, so a running keeper keeps the address it resolved then.
package monitorlocator

import (
	"context"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

const etcdScheme = "etcd://"

// IsIndirect reports whether monitorURI names an etcd indirection rather
// than a literal postgres:// connection string.
func IsIndirect(monitorURI string) bool {
	return strings.HasPrefix(monitorURI, etcdScheme)
}

// Locator resolves the current monitor connection string from etcd,
// re-reading the key on every Resolve call.
type Locator struct {
	client *clientv3.Client
	key    string
}

// New parses an "etcd://<prefix>" monitor_uri into the etcd client and key
// to read: the monitor's live address is stored at "/<prefix>/monitor".
func New(client *clientv3.Client, monitorURI string) (*Locator, error) {
	prefix := strings.TrimPrefix(monitorURI, etcdScheme)
	if prefix == "" {
		return nil, kerrors.New(kerrors.ConfigInvalid, "monitorlocator.New",
			fmt.Errorf("etcd monitor_uri %q is missing a cluster prefix", monitorURI))
	}
	return &Locator{client: client, key: "/" + prefix + "/monitor"}, nil
}

// Resolve fetches the current monitor connection string.
func (l *Locator) Resolve(ctx context.Context) (string, error) {
	resp, err := l.client.Get(ctx, l.key)
	if err != nil {
		return "", kerrors.New(kerrors.MonitorUnreachable, "monitorlocator.Resolve", err)
	}
	if len(resp.Kvs) == 0 {
		return "", kerrors.New(kerrors.MonitorUnreachable, "monitorlocator.Resolve",
			fmt.Errorf("no monitor address published at %q", l.key))
	}
	return string(resp.Kvs[0].Value), nil
}

// Publish records a monitor connection string at the key Resolve reads.
// No pg-keeperd command calls it (`create monitor` is a stub); whatever
// holds the monitor role publishes its address there.
func (l *Locator) Publish(ctx context.Context, monitorConnString string) error {
	if _, err := l.client.Put(ctx, l.key, monitorConnString); err != nil {
		return kerrors.New(kerrors.InternalError, "monitorlocator.Publish", err)
	}
	return nil
}
