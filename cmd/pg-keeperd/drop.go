package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/state"
)

func newDropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Remove a node's registration, or a formation",
	}
	cmd.AddCommand(newDropNodeCmd(), newDropFormationCmd())
	return cmd
}

func newDropNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Remove this node's registration from the monitor",
	}
	pgdata := pgDataFlag(cmd)
	etcdEndpoints := etcdEndpointsFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		if cfg.MonitorDisabled {
			return kerrors.New(kerrors.ConfigInvalid, "drop node",
				fmt.Errorf("no monitor is configured for this node"))
		}

		store := state.NewFileStateStore(cfg.Paths.State)
		st, err := store.Read()
		if err != nil {
			return kerrors.New(kerrors.StateCorrupt, "drop node", err)
		}

		monitor, err := newMonitorClient(cmd.Context(), cfg, *etcdEndpoints)
		if err != nil {
			return err
		}
		if err := monitor.Remove(cmd.Context(), st.CurrentNodeID, st.CurrentGroup); err != nil {
			return err
		}
		vlogf(infoLevel, "removed node %d (group %d) from the monitor", st.CurrentNodeID, st.CurrentGroup)
		fmt.Println("node removed")
		return nil
	}
	return cmd
}

func newDropFormationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formation",
		Short: "Remove a formation from the monitor (not implemented by this agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return kerrors.New(kerrors.InternalError, "drop formation",
				fmt.Errorf("formation administration is a monitor-side operation, out of scope for pg-keeperd (spec.md §1)"))
		},
	}
}
