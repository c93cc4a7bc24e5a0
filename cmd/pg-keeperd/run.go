package main

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/httpd"
	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/pidguard"
	"github.com/gmr/pg-auto-failover/internal/reconcile"
	"github.com/gmr/pg-auto-failover/internal/signals"
	"github.com/gmr/pg-auto-failover/internal/state"
	"github.com/gmr/pg-auto-failover/internal/supervisor"
)

// newRunCmd wires internal/reconcile.Loop, internal/httpd.StatusServer and
// internal/signals.Intake together under internal/supervisor.Supervisor,
// the two-goroutine rendering of the two-process design of spec.md §4.8
// (see SPEC_FULL.md §5).
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the keeper: the reconcile loop and the status HTTP server",
	}
	pgdata := pgDataFlag(cmd)
	sleepTime := cmd.Flags().Duration("sleep-time", 1*time.Second, "PG_AUTOCTL_KEEPER_SLEEP_TIME")
	pidBackend := cmd.Flags().String("pid-backend", "file", "pid guard backend: file or etcd")
	pidLockTTL := cmd.Flags().Duration("pid-backend-ttl", 10*time.Second, "etcd session TTL when --pid-backend etcd")
	etcdEndpoints := etcdEndpointsFlag(cmd)
	dynamoTable := cmd.Flags().String("dynamo-table", "", "mirror every persisted KeeperState to this DynamoDB table")
	dynamoRegion := cmd.Flags().String("dynamo-region", "", "AWS region for --dynamo-table (default: AWS SDK's own resolution)")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		if cfg.MonitorDisabled {
			return kerrors.New(kerrors.ConfigInvalid, "run",
				fmt.Errorf("this node has no monitor configured; run `pg-keeperd do service listener` instead"))
		}

		ctx := cmd.Context()

		guard, err := newPidGuard(*pidBackend, cfg, *etcdEndpoints, *pidLockTTL)
		if err != nil {
			return err
		}

		monitor, err := newMonitorClient(ctx, cfg, *etcdEndpoints)
		if err != nil {
			return err
		}

		mirror, err := newStateMirror(ctx, *dynamoTable, *dynamoRegion)
		if err != nil {
			return err
		}

		store := state.NewFileStateStore(cfg.Paths.State)
		sig := signals.New()

		loop := &reconcile.Loop{
			Config:    cfg,
			Store:     store,
			Pg:        newLocalController(cfg),
			Monitor:   monitor,
			PidGuard:  guard,
			Mirror:    mirror,
			Signals:   sig,
			StartPid:  os.Getpid(),
			SleepTime: *sleepTime,
		}

		httpAddr := fmt.Sprintf("%s:%d", httpdBindAddress(cfg.HTTPD.ListenAddress), cfg.HTTPD.Port)
		httpd.CLIVersion, httpd.ExtensionVersion, httpd.APIVersion = cliVersion, extensionVersion, apiVersion

		sup := &supervisor.Supervisor{
			Loop:       loop,
			HTTPAddr:   httpAddr,
			StatePath:  cfg.Paths.State,
			ConfigPath: cfg.Paths.Config,
			PidGuard:   guard,
			InitMarker: state.InitMarkerPath(cfg.Paths.State),
			Signals:    sig,
		}

		vlogf(infoLevel, "starting keeper for %s/%s (pgdata=%s, monitor=%s)",
			cfg.Formation, cfg.NodeName, cfg.PgSetup.PgData, cfg.MonitorURI)

		return sup.Run(ctx)
	}
	return cmd
}

// newPidGuard builds the pidguard.Guard --pid-backend names: the default
// FilePidGuard, or an EtcdPidGuard keyed by formation/nodename when the
// operator opts into etcd-backed mutual exclusion.
func newPidGuard(backend string, cfg *config.KeeperConfig, etcdEndpoints []string, ttl time.Duration) (pidguard.Guard, error) {
	switch backend {
	case "file":
		return pidguard.NewFilePidGuard(cfg.Paths.Pid), nil
	case "etcd":
		client, err := newEtcdClient(etcdEndpoints)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("/pg-keeperd/%s/%s/pidguard", cfg.Formation, cfg.NodeName)
		identity := fmt.Sprintf("%s:%d", cfg.NodeName, os.Getpid())
		return pidguard.NewEtcdPidGuard(client, key, identity, ttl), nil
	default:
		return nil, kerrors.New(kerrors.ConfigInvalid, "run",
			fmt.Errorf("pid-backend %q is not recognized; use file or etcd", backend))
	}
}

// newStateMirror builds the optional DynamoDB state mirror --dynamo-table
// requests, or returns nil when no table is configured.
func newStateMirror(ctx context.Context, table, region string) (reconcile.StateMirror, error) {
	if table == "" {
		return nil, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, kerrors.New(kerrors.InternalError, "newStateMirror", err)
	}
	return state.NewDynamoDBMirror(dynamodb.NewFromConfig(awsCfg), table), nil
}

// httpdBindAddress translates pg_autoctl.cfg's "*" (any interface)
// shorthand into the empty host net/http expects.
func httpdBindAddress(listenAddress string) string {
	if listenAddress == "*" {
		return ""
	}
	return listenAddress
}
