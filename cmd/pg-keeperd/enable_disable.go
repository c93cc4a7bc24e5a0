package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/state"
)

func newEnableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Turn on synchronous replication, or put this node in maintenance",
	}
	cmd.AddCommand(newEnableSecondaryCmd(), newEnableMaintenanceCmd())
	return cmd
}

func newDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Turn off synchronous replication, or resume from maintenance",
	}
	cmd.AddCommand(newDisableSecondaryCmd(), newDisableMaintenanceCmd())
	return cmd
}

// newEnableSecondaryCmd and newDisableSecondaryCmd toggle synchronous
// replication directly against the local primary, the same PgController
// primitive (§4.3 enable_sync_rep/disable_sync_rep) the WaitPrimary ->
// Primary and Primary -> Draining FSM edges use.
func newEnableSecondaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secondary",
		Short: "Require synchronous replication acknowledgment from a standby",
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		if err := newLocalController(cfg).EnableSyncRep(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("synchronous replication enabled")
		return nil
	}
	return cmd
}

func newDisableSecondaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secondary",
		Short: "Allow the primary to commit without a standby acknowledgment",
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		if err := newLocalController(cfg).DisableSyncRep(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("synchronous replication disabled")
		return nil
	}
	return cmd
}

// newEnableMaintenanceCmd and newDisableMaintenanceCmd drive the `* ->
// Maintenance`/`Maintenance -> *` wildcard edges of spec.md §4.5 by
// writing assigned_role directly, the same local-override path `do fsm
// assign` uses. Unlike every other edge, the monitor's §4.4 contract
// (node_active/register/remove/extension_version) has no dedicated RPC to
// coordinate maintenance across the group, so for a monitored node this is
// only a local nudge: the next node_active report will tell the monitor
// this node is in Maintenance, but the monitor's own reassignment off of
// it is not modeled here (spec.md §1 scopes the monitor's own server out).
func newEnableMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Stop PostgreSQL and mark this node as assigned to Maintenance",
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return assignLocally(*pgdata, state.Maintenance)
	}
	return cmd
}

func newDisableMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Resume this node from Maintenance into the given role",
	}
	pgdata := pgDataFlag(cmd)
	resumeAs := cmd.Flags().String("resume-as", "", "role to resume into (e.g. secondary, single)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if *resumeAs == "" {
			return kerrors.New(kerrors.ConfigInvalid, "disable maintenance",
				fmt.Errorf("--resume-as is required: this agent has no monitor RPC to recover the pre-maintenance role"))
		}
		to, err := state.ParseNodeState(*resumeAs)
		if err != nil {
			return kerrors.New(kerrors.ConfigInvalid, "disable maintenance", err)
		}
		return assignLocally(*pgdata, to)
	}
	return cmd
}
