package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/state"
)

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the monitor URI, events, or this node's state",
	}
	cmd.AddCommand(newShowURICmd(), newShowStateCmd(), newShowEventsCmd())
	return cmd
}

func newShowURICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uri",
		Short: "Print the monitor connection string this node uses",
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		if cfg.MonitorDisabled {
			fmt.Println("disabled")
			return nil
		}
		fmt.Println(cfg.MonitorURI)
		return nil
	}
	return cmd
}

func newShowStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print this node's current and assigned role",
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		st, err := state.NewFileStateStore(cfg.Paths.State).Read()
		if err != nil {
			return kerrors.New(kerrors.StateCorrupt, "show state", err)
		}
		fmt.Printf("node %d (group %d): current=%s assigned=%s pg_is_running=%v sync_state=%q wal_lag=%d\n",
			st.CurrentNodeID, st.CurrentGroup, st.CurrentRole, st.AssignedRole,
			st.PgIsRunning, st.SyncState, st.XlogLagBytes)
		return nil
	}
	return cmd
}

func newShowEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print the formation's event log (not implemented by this agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return kerrors.New(kerrors.InternalError, "show events",
				fmt.Errorf("the formation event log is kept by the monitor, out of scope for pg-keeperd (spec.md §1)"))
		},
	}
}
