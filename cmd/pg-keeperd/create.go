package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/monitorlocator"
	"github.com/gmr/pg-auto-failover/internal/state"
)

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a monitor, a keeper, or register a formation",
	}
	cmd.AddCommand(newCreatePostgresCmd(), newCreateMonitorCmd(), newCreateFormationCmd())
	return cmd
}

// newCreatePostgresCmd implements the core `create` flow of spec.md §3's
// Lifecycle section: write pg_autoctl.cfg, register with the monitor (or,
// with --disable-monitor, take node 1/group 0 with assigned_role Init),
// and persist the first KeeperState record. This command never writes the
// record again; afterwards the reconcile loop (internal/reconcile), `do
// fsm`, `enable/disable maintenance` and `do service listener` update it.
func newCreatePostgresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postgres",
		Short: "Initialize a keeper for a local PostgreSQL instance",
	}
	pgdata := pgDataFlag(cmd)
	formation := cmd.Flags().String("formation", "default", "formation this node joins")
	nodename := cmd.Flags().String("nodename", "", "this node's advertised hostname")
	pgport := cmd.Flags().Int("pgport", 5432, "PostgreSQL port")
	authMethod := cmd.Flags().String("auth", "trust", "pg_hba auth method for the monitor/replication users")
	monitorURI := cmd.Flags().String("monitor", "", "monitor connection string (postgres://...)")
	disableMonitor := cmd.Flags().Bool("disable-monitor", false, "run without a monitor, driven only by `do service listener`")
	slotName := cmd.Flags().String("replication-slot-name", "pgautofailover_standby", "replication slot name")
	replicationPassword := cmd.Flags().String("replication-password", "", "replication user password")
	partitionTimeout := cmd.Flags().Int("network-partition-timeout", 20, "seconds before a partitioned primary self-demotes")
	httpListen := cmd.Flags().String("httpd-listen", "*", "status server listen address")
	httpPort := cmd.Flags().Int("httpd-port", 8080, "status server port")
	etcdEndpoints := etcdEndpointsFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if *nodename == "" {
			return kerrors.New(kerrors.ConfigInvalid, "create postgres", fmt.Errorf("--nodename is required"))
		}
		if !*disableMonitor {
			if *monitorURI == "" {
				return kerrors.New(kerrors.ConfigInvalid, "create postgres", fmt.Errorf("--monitor is required unless --disable-monitor is set"))
			}
			if !monitorlocator.IsIndirect(*monitorURI) {
				if err := validateMonitorURI(*monitorURI); err != nil {
					return err
				}
			}
		}

		cfg := &config.KeeperConfig{
			Formation: *formation,
			NodeName:  *nodename,
			PgSetup: config.PgSetup{
				PgData:     *pgdata,
				PgPort:     *pgport,
				AuthMethod: *authMethod,
			},
			MonitorURI:                     *monitorURI,
			MonitorDisabled:                *disableMonitor,
			ReplicationSlotName:            *slotName,
			ReplicationPassword:            *replicationPassword,
			NetworkPartitionTimeoutSeconds: *partitionTimeout,
			HTTPD: config.HTTPD{
				ListenAddress: *httpListen,
				Port:          *httpPort,
			},
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		cfg.Paths = config.PathsFromPgData(*pgdata)

		if err := os.MkdirAll(*pgdata, 0o700); err != nil {
			return kerrors.New(kerrors.InternalError, "create postgres", err)
		}

		initMarker := state.InitMarkerPath(cfg.Paths.State)
		if err := os.WriteFile(initMarker, []byte{}, 0o600); err != nil {
			return kerrors.New(kerrors.InternalError, "create postgres", err)
		}

		nodeID, groupID, assignedRole, err := registerOrGoSingle(cmd.Context(), cfg, *etcdEndpoints)
		if err != nil {
			return err
		}

		if err := config.WriteFile(cfg.Paths.Config, cfg); err != nil {
			return err
		}

		store := state.NewFileStateStore(cfg.Paths.State)
		if err := store.Write(state.KeeperState{
			CurrentNodeID: nodeID,
			CurrentGroup:  groupID,
			CurrentRole:   state.Init,
			AssignedRole:  assignedRole,
		}); err != nil {
			return kerrors.New(kerrors.StateCorrupt, "create postgres", err)
		}

		if err := os.Remove(initMarker); err != nil && !os.IsNotExist(err) {
			return kerrors.New(kerrors.InternalError, "create postgres", err)
		}

		vlogf(infoLevel, "registered node %d (group %d), initial assignment %s", nodeID, groupID, assignedRole)
		fmt.Printf("keeper created at %s, run `pg-keeperd run --pgdata %s` to start it\n", cfg.Paths.Config, *pgdata)
		return nil
	}
	return cmd
}

// registerOrGoSingle registers with the monitor, or -- when the monitor is
// disabled -- assigns node 1/group 0 in the Init state directly, since
// there is no monitor to hand out identities and the operator drives the
// first transition themselves via `do service listener`.
func registerOrGoSingle(ctx context.Context, cfg *config.KeeperConfig, etcdEndpoints []string) (int64, int32, state.NodeState, error) {
	if cfg.MonitorDisabled {
		return 1, 0, state.Init, nil
	}
	monitor, err := newMonitorClient(ctx, cfg, etcdEndpoints)
	if err != nil {
		return 0, 0, state.NoState, err
	}
	result, err := monitor.Register(ctx, cfg.Formation, cfg.NodeName, cfg.PgSetup.PgPort, state.Init)
	if err != nil {
		return 0, 0, state.NoState, err
	}
	return result.NodeID, result.GroupID, result.AssignedState, nil
}

func newCreateMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Create a monitor node (not implemented by this agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return kerrors.New(kerrors.InternalError, "create monitor",
				fmt.Errorf("the monitor's own server is out of scope for pg-keeperd (spec.md §1); provision it separately"))
		},
	}
}

func newCreateFormationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formation",
		Short: "Register a formation with the monitor (not implemented by this agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return kerrors.New(kerrors.InternalError, "create formation",
				fmt.Errorf("formation administration is a monitor-side operation, out of scope for pg-keeperd (spec.md §1)"))
		},
	}
}
