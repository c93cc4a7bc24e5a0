package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the running keeper to stop (SIGTERM), or --fast for SIGINT",
	}
	pgdata := pgDataFlag(cmd)
	fast := cmd.Flags().Bool("fast", false, "send SIGINT instead of SIGTERM")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		sig := syscall.SIGTERM
		if *fast {
			sig = syscall.SIGINT
		}
		return signalRunningKeeper(*pgdata, sig)
	}
	return cmd
}

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask the running keeper to re-read its reloadable config fields (SIGHUP)",
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return signalRunningKeeper(*pgdata, syscall.SIGHUP)
	}
	return cmd
}

func signalRunningKeeper(pgdata string, sig syscall.Signal) error {
	cfg, err := loadConfig(pgdata)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cfg.Paths.Pid)
	if err != nil {
		return kerrors.New(kerrors.PidConflict, "signalRunningKeeper",
			fmt.Errorf("read pid file %q: %w", cfg.Paths.Pid, err))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return kerrors.New(kerrors.PidConflict, "signalRunningKeeper",
			fmt.Errorf("pid file %q contains garbage: %w", cfg.Paths.Pid, err))
	}

	if err := syscall.Kill(pid, sig); err != nil {
		return kerrors.New(kerrors.InternalError, "signalRunningKeeper", err)
	}
	fmt.Printf("sent %v to pid %d\n", sig, pid)
	return nil
}
