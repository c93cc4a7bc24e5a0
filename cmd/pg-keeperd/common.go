package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/monitorclient"
	"github.com/gmr/pg-auto-failover/internal/monitorlocator"
	"github.com/gmr/pg-auto-failover/internal/pgctl"
)

// pgDataFlag adds the --pgdata flag every subcommand that needs to locate
// a keeper's files accepts, matching pg_autoctl's own PGDATA-first
// addressing scheme (spec.md §6: "Path derived from PGDATA").
func pgDataFlag(cmd *cobra.Command) *string {
	pgdata := os.Getenv("PGDATA")
	return cmd.Flags().String("pgdata", pgdata, "PostgreSQL data directory (default: $PGDATA)")
}

// etcdEndpointsFlag adds the --etcd-endpoints flag any command that may need
// to dial etcd accepts, whether to resolve an "etcd://" monitor_uri
// indirection (internal/monitorlocator) or to run with --pid-backend etcd
// (internal/pidguard.EtcdPidGuard).
func etcdEndpointsFlag(cmd *cobra.Command) *[]string {
	return cmd.Flags().StringSlice("etcd-endpoints", nil, "etcd endpoints (required for an etcd:// monitor, or --pid-backend etcd)")
}

func loadConfig(pgdata string) (*config.KeeperConfig, error) {
	if pgdata == "" {
		return nil, kerrors.New(kerrors.ConfigInvalid, "loadConfig",
			fmt.Errorf("no --pgdata given and PGDATA is not set"))
	}
	paths := config.PathsFromPgData(pgdata)
	return config.ReadFile(paths.Config)
}

// localDSN builds the libpq connection string pgctl.Controller uses to
// reach the local PostgreSQL instance it is managing: a postgres:// URL
// against loopback on the configured port, the same shape
// postgres.go's connectPostgres builds ("postgres://%s@%s:%d/?sslmode=disable").
func localDSN(cfg *config.KeeperConfig) string {
	return fmt.Sprintf("postgres://%s@127.0.0.1:%d/postgres?sslmode=disable",
		monitorUserName(), cfg.PgSetup.PgPort)
}

// monitorUserName is the superuser pgctl.Controller connects as locally;
// it is also who CreateMonitorUser provisions, so the two names must
// agree.
func monitorUserName() string {
	return "pgautofailover_monitor"
}

func newLocalController(cfg *config.KeeperConfig) *pgctl.Controller {
	return pgctl.NewController(cfg.PgSetup.PgData, cfg.PgSetup.PgPort, localDSN(cfg))
}

// newMonitorClient builds the MonitorClient cfg.MonitorURI names. When the
// URI is an "etcd://<prefix>" indirection, it is resolved to a live
// postgres:// connection string through internal/monitorlocator first --
// etcdEndpoints must be non-empty in that case.
func newMonitorClient(ctx context.Context, cfg *config.KeeperConfig, etcdEndpoints []string) (monitorclient.MonitorClient, error) {
	uri := cfg.MonitorURI
	if monitorlocator.IsIndirect(uri) {
		client, err := newEtcdClient(etcdEndpoints)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		loc, err := monitorlocator.New(client, uri)
		if err != nil {
			return nil, err
		}
		resolved, err := loc.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		uri = resolved
	}
	return monitorclient.NewClient(uri), nil
}

// newEtcdClient dials the etcd cluster backing either an "etcd://" monitor
// indirection or --pid-backend etcd; both need the same --etcd-endpoints
// flag, so they share this constructor.
func newEtcdClient(endpoints []string) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, kerrors.New(kerrors.ConfigInvalid, "newEtcdClient",
			fmt.Errorf("--etcd-endpoints is required"))
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, kerrors.New(kerrors.InternalError, "newEtcdClient", err)
	}
	return client, nil
}

// validateMonitorURI rejects a monitor_uri that doesn't parse as a libpq
// connection string early, so registration/do-fsm commands fail with
// ConfigInvalid rather than a confusing MonitorUnreachable from pgx.
func validateMonitorURI(uri string) error {
	if _, err := pgx.ParseConfig(uri); err != nil {
		return kerrors.New(kerrors.ConfigInvalid, "validateMonitorURI", err)
	}
	return nil
}
