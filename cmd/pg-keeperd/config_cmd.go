package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

// configKeys maps the dotted "section.key" names `config get`/`config set`
// accept to accessors on config.KeeperConfig, mirroring the [section] keys
// config.go's parser recognizes in pg_autoctl.cfg (spec.md §6).
var configKeys = []string{
	"pg_autoctl.formation",
	"pg_autoctl.nodename",
	"pg_autoctl.monitor",
	"postgresql.pgdata",
	"postgresql.pgport",
	"postgresql.auth_method",
	"replication.slot_name",
	"replication.password",
	"timeout.network_partition_timeout",
	"httpd.listen_address",
	"httpd.port",
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or update pg_autoctl.cfg",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of a config key",
		Args:  cobra.ExactArgs(1),
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		value, err := getConfigKey(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	}
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Update a config key and rewrite pg_autoctl.cfg",
		Args:  cobra.ExactArgs(2),
	}
	pgdata := pgDataFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(*pgdata)
		if err != nil {
			return err
		}
		if err := setConfigKey(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := config.WriteFile(cfg.Paths.Config, cfg); err != nil {
			return err
		}
		vlogf(infoLevel, "set %s = %s", args[0], args[1])
		fmt.Println("reload the running keeper (SIGHUP / `pg-keeperd reload`) to pick up reloadable fields")
		return nil
	}
	return cmd
}

func getConfigKey(cfg *config.KeeperConfig, key string) (string, error) {
	switch key {
	case "pg_autoctl.formation":
		return cfg.Formation, nil
	case "pg_autoctl.nodename":
		return cfg.NodeName, nil
	case "pg_autoctl.monitor":
		if cfg.MonitorDisabled {
			return "disabled", nil
		}
		return cfg.MonitorURI, nil
	case "postgresql.pgdata":
		return cfg.PgSetup.PgData, nil
	case "postgresql.pgport":
		return strconv.Itoa(cfg.PgSetup.PgPort), nil
	case "postgresql.auth_method":
		return cfg.PgSetup.AuthMethod, nil
	case "replication.slot_name":
		return cfg.ReplicationSlotName, nil
	case "replication.password":
		return cfg.ReplicationPassword, nil
	case "timeout.network_partition_timeout":
		return strconv.Itoa(cfg.NetworkPartitionTimeoutSeconds), nil
	case "httpd.listen_address":
		return cfg.HTTPD.ListenAddress, nil
	case "httpd.port":
		return strconv.Itoa(cfg.HTTPD.Port), nil
	default:
		return "", kerrors.New(kerrors.ConfigInvalid, "config get", fmt.Errorf("unknown key %q (known keys: %v)", key, configKeys))
	}
}

// setConfigKey rejects edits to the non-reloadable fields of spec.md §6
// (formation, nodename, pgport, monitor_uri) and to pgdata once a keeper
// has already been created, since KeeperConfig.Reload never re-reads
// them either. It does accept auth_method and the replication slot name
// and password, which Reload does not re-read either: a running keeper
// picks those up only when it restarts.
func setConfigKey(cfg *config.KeeperConfig, key, value string) error {
	switch key {
	case "pg_autoctl.formation", "pg_autoctl.nodename", "pg_autoctl.monitor",
		"postgresql.pgport", "postgresql.pgdata":
		return kerrors.New(kerrors.ConfigInvalid, "config set",
			fmt.Errorf("%q is not reloadable and cannot be changed after create", key))
	case "postgresql.auth_method":
		cfg.PgSetup.AuthMethod = value
		return nil
	case "replication.slot_name":
		cfg.ReplicationSlotName = value
		return nil
	case "replication.password":
		cfg.ReplicationPassword = value
		return nil
	case "timeout.network_partition_timeout":
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return kerrors.New(kerrors.ConfigInvalid, "config set", err)
		}
		cfg.NetworkPartitionTimeoutSeconds = seconds
		return nil
	case "httpd.listen_address":
		cfg.HTTPD.ListenAddress = value
		return nil
	case "httpd.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return kerrors.New(kerrors.ConfigInvalid, "config set", err)
		}
		cfg.HTTPD.Port = port
		return nil
	default:
		return kerrors.New(kerrors.ConfigInvalid, "config set", fmt.Errorf("unknown key %q (known keys: %v)", key, configKeys))
	}
}
