package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/fsm"
	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/listener"
	"github.com/gmr/pg-auto-failover/internal/monitorclient"
	"github.com/gmr/pg-auto-failover/internal/state"
)

// newDoCmd implements the low-level `do <primitive>` primitives of
// spec.md §6, grounded on original_source/src/bin/pg_autoctl/cli_do_fsm.c
// and cli_do_misc.c per SPEC_FULL.md §12: operator-facing escape hatches
// that call directly into the FSM/PgController without going through a
// running reconcile loop.
func newDoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "do",
		Short:  "Low-level primitives used for debugging and manual recovery",
		Hidden: true,
	}
	fsmCmd := &cobra.Command{Use: "fsm", Short: "Low-level FSM primitives"}
	fsmCmd.AddCommand(newDoFSMInitCmd(), newDoFSMAssignCmd(), newDoFSMNodesActiveCmd(), newDoFSMListCmd())
	serviceCmd := &cobra.Command{Use: "service", Short: "Run one of the keeper's internal services standalone"}
	serviceCmd.AddCommand(newDoServiceListenerCmd())
	cmd.AddCommand(fsmCmd, serviceCmd)
	return cmd
}

// assignLocally writes assigned_role directly into the on-disk
// KeeperState and immediately attempts the FSM transition, like
// internal/listener.Listener.dispatch does for a "fsm assign" command
// arriving over the Unix socket. Unlike dispatch, it persists the new
// assigned_role even when the transition is illegal or fails (leaving
// current_role unchanged). Used by `do fsm assign` and by enable/disable
// maintenance.
func assignLocally(pgdata string, to state.NodeState) error {
	cfg, err := loadConfig(pgdata)
	if err != nil {
		return err
	}

	store := state.NewFileStateStore(cfg.Paths.State)
	st, err := store.Read()
	if err != nil {
		return kerrors.New(kerrors.StateCorrupt, "assignLocally", err)
	}

	st.AssignedRole = to

	prog, err := fsm.Transition(st.CurrentRole, to)
	if err != nil {
		if err := store.Write(st); err != nil {
			return kerrors.New(kerrors.StateCorrupt, "assignLocally", err)
		}
		return err
	}

	pg := newLocalController(cfg)
	if err := fsm.Execute(context.Background(), pg, prog, fsm.Env{}); err != nil {
		_ = store.Write(st)
		return err
	}

	st.CurrentRole = to
	if err := store.Write(st); err != nil {
		return kerrors.New(kerrors.StateCorrupt, "assignLocally", err)
	}
	fmt.Printf("assigned and transitioned to %s\n", to)
	return nil
}

func newDoFSMInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a fresh Init-state KeeperState record",
	}
	pgdata := pgDataFlag(cmd)
	nodeID := cmd.Flags().Int64("node-id", 1, "node id to record")
	groupID := cmd.Flags().Int32("group-id", 0, "group id to record")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		store := state.NewFileStateStore(cfg.Paths.State)
		if err := store.Write(state.KeeperState{
			CurrentNodeID: *nodeID,
			CurrentGroup:  *groupID,
			CurrentRole:   state.Init,
			AssignedRole:  state.Init,
		}); err != nil {
			return kerrors.New(kerrors.StateCorrupt, "do fsm init", err)
		}
		fmt.Println("wrote Init-state KeeperState record")
		return nil
	}
	return cmd
}

func newDoFSMAssignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <state>",
		Short: "Assign a new target role and run its transition now",
		Args:  cobra.ExactArgs(1),
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		to, err := state.ParseNodeState(args[0])
		if err != nil {
			return kerrors.New(kerrors.ConfigInvalid, "do fsm assign", err)
		}
		return assignLocally(*pgdata, to)
	}
	return cmd
}

func newDoFSMNodesActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes-active",
		Short: "Send one node_active report to the monitor and print the reply",
	}
	pgdata := pgDataFlag(cmd)
	etcdEndpoints := etcdEndpointsFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		if cfg.MonitorDisabled {
			return kerrors.New(kerrors.ConfigInvalid, "do fsm nodes-active", fmt.Errorf("no monitor is configured"))
		}
		store := state.NewFileStateStore(cfg.Paths.State)
		st, err := store.Read()
		if err != nil {
			return kerrors.New(kerrors.StateCorrupt, "do fsm nodes-active", err)
		}

		monitor, err := newMonitorClient(cmd.Context(), cfg, *etcdEndpoints)
		if err != nil {
			return err
		}
		assignment, err := monitor.NodeActive(cmd.Context(), monitorReportFrom(cfg, st))
		if err != nil {
			return err
		}
		fmt.Printf("assigned_state=%s node_id=%d group_id=%d primary=%s:%d\n",
			assignment.AssignedState, assignment.NodeID, assignment.GroupID,
			assignment.PrimaryHost, assignment.PrimaryPort)
		return nil
	}
	return cmd
}

func monitorReportFrom(cfg *config.KeeperConfig, st state.KeeperState) monitorclient.Report {
	return monitorclient.Report{
		Formation:   cfg.Formation,
		NodeName:    cfg.NodeName,
		Port:        cfg.PgSetup.PgPort,
		NodeID:      st.CurrentNodeID,
		GroupID:     st.CurrentGroup,
		CurrentRole: st.CurrentRole,
		PgIsRunning: st.PgIsRunning,
		WalLagBytes: st.XlogLagBytes,
		SyncState:   st.SyncState,
	}
}

func newDoFSMListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every legal (from, to) FSM transition",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, e := range fsm.Edges() {
				fmt.Printf("%s -> %s\n", e.From, e.To)
			}
			fmt.Println("* -> maintenance")
			fmt.Println("maintenance -> *")
			return nil
		},
	}
}

func newDoServiceListenerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listener",
		Short: "Run the standalone command-channel listener (no-monitor mode)",
	}
	pgdata := pgDataFlag(cmd)
	socketPath := cmd.Flags().String("socket", "", "Unix socket path (default: {pgdata}/pg_autoctl.sock)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		if !cfg.MonitorDisabled {
			return kerrors.New(kerrors.ConfigInvalid, "do service listener",
				fmt.Errorf("this node has a monitor configured; run `pg-keeperd run` instead"))
		}
		path := *socketPath
		if path == "" {
			path = cfg.PgSetup.PgData + "/pg_autoctl.sock"
		}
		l := &listener.Listener{
			SocketPath: path,
			Store:      state.NewFileStateStore(cfg.Paths.State),
			Pg:         newLocalController(cfg),
		}
		vlogf(infoLevel, "listening on %s", path)
		return l.Serve(cmd.Context())
	}
	return cmd
}
