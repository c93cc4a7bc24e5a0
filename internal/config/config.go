// Package config reads and writes pg_autoctl.cfg, the INI-style
// configuration file. No available INI parser fit this format cleanly
// (the nearest candidates, gopkg.in/yaml.v3 and go-toml/v2, parse
// different file formats entirely), so this package parses it directly
// with bufio.Scanner, in a plain allocate-a-struct-and-fill-it style.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

// PgSetup is the [postgresql] section.
type PgSetup struct {
	PgData     string
	PgPort     int
	AuthMethod string
}

// HTTPD is the [httpd] section. Both fields are reloadable.
type HTTPD struct {
	ListenAddress string
	Port          int
}

// Paths collects the on-disk locations derived from PGDATA: the config
// file lives at {pgdata}/pg_autoctl.cfg, alongside the sibling state and
// pid files.
type Paths struct {
	Config string
	State  string
	Pid    string
}

// PathsFromPgData derives the standard sibling file layout from a PGDATA
// directory.
func PathsFromPgData(pgdata string) Paths {
	return Paths{
		Config: filepath.Join(pgdata, "pg_autoctl.cfg"),
		State:  filepath.Join(pgdata, "pg_autoctl.state"),
		Pid:    filepath.Join(pgdata, "pg_autoctl.pid"),
	}
}

// KeeperConfig is the read-only-per-tick configuration record. Reloadable
// fields (timeouts, httpd address/port) are re-read on SIGHUP; everything
// else (formation, nodename, pgport, monitor_uri) is fixed for the
// lifetime of the process.
type KeeperConfig struct {
	// Non-reloadable.
	Formation             string
	NodeName               string
	PgSetup                PgSetup
	MonitorURI             string
	MonitorDisabled        bool
	ReplicationSlotName    string
	ReplicationPassword    string

	// Reloadable.
	NetworkPartitionTimeoutSeconds int
	HTTPD                          HTTPD

	Paths Paths
}

// Validate checks the invariants a freshly-parsed config must satisfy
// before the keeper can use it.
func (c *KeeperConfig) Validate() error {
	if c.Formation == "" {
		return kerrors.New(kerrors.ConfigInvalid, "config.Validate", fmt.Errorf("formation must not be empty"))
	}
	if c.NodeName == "" {
		return kerrors.New(kerrors.ConfigInvalid, "config.Validate", fmt.Errorf("nodename must not be empty"))
	}
	if c.PgSetup.PgData == "" {
		return kerrors.New(kerrors.ConfigInvalid, "config.Validate", fmt.Errorf("pg_setup.pgdata must not be empty"))
	}
	if c.MonitorURI == "" && !c.MonitorDisabled {
		return kerrors.New(kerrors.ConfigInvalid, "config.Validate", fmt.Errorf("monitor_uri must not be empty"))
	}
	if c.NetworkPartitionTimeoutSeconds <= 0 {
		return kerrors.New(kerrors.ConfigInvalid, "config.Validate", fmt.Errorf("timeout.network_partition_timeout must be positive"))
	}
	return nil
}

// ReadFile parses an INI-style pg_autoctl.cfg file.
func ReadFile(path string) (*KeeperConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kerrors.New(kerrors.ConfigInvalid, "config.ReadFile", err)
	}
	defer f.Close()

	cfg, err := parse(f)
	if err != nil {
		return nil, kerrors.New(kerrors.ConfigInvalid, "config.ReadFile", err)
	}

	cfg.Paths = PathsFromPgData(cfg.PgSetup.PgData)
	cfg.Paths.Config = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parse(f *os.File) (*KeeperConfig, error) {
	cfg := &KeeperConfig{
		NetworkPartitionTimeoutSeconds: 20,
		HTTPD: HTTPD{
			ListenAddress: "*",
			Port:          8080,
		},
	}

	section := ""
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := cfg.set(section, key, value); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}

	return cfg, nil
}

func (c *KeeperConfig) set(section, key, value string) error {
	switch section {
	case "pg_autoctl":
		switch key {
		case "formation":
			c.Formation = value
		case "nodename":
			c.NodeName = value
		case "monitor":
			if value == "disabled" {
				c.MonitorDisabled = true
			} else {
				c.MonitorURI = value
			}
		default:
			// Unknown keys in a known section are tolerated for
			// forward compatibility.
		}
	case "postgresql":
		switch key {
		case "pgdata":
			c.PgSetup.PgData = value
		case "pgport":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("postgresql.pgport: %w", err)
			}
			c.PgSetup.PgPort = port
		case "auth_method":
			c.PgSetup.AuthMethod = value
		}
	case "replication":
		switch key {
		case "slot_name":
			c.ReplicationSlotName = value
		case "password":
			c.ReplicationPassword = value
		}
	case "timeout":
		switch key {
		case "network_partition_timeout":
			seconds, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("timeout.network_partition_timeout: %w", err)
			}
			c.NetworkPartitionTimeoutSeconds = seconds
		}
	case "httpd":
		switch key {
		case "listen_address":
			c.HTTPD.ListenAddress = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("httpd.port: %w", err)
			}
			c.HTTPD.Port = port
		}
	}
	return nil
}

// Role identifies which half of pg_auto_failover a configuration file
// belongs to. Only Keeper is implemented by this repository (the monitor
// is an external collaborator per spec.md §1); ProbeConfigRole still
// recognizes Monitor so the status server can respond 503 rather than
// misreading a monitor's config as a keeper's.
type Role int

const (
	RoleUnknown Role = iota
	RoleKeeper
	RoleMonitor
)

// ProbeConfigRole inspects a config file's sections without fully parsing
// it (a monitor config lacks [postgresql]/[replication] sections a keeper
// requires) -- this mirrors ProbeConfigurationFileRole's job of answering
// "is this a keeper or a monitor config" before committing to one parser.
func ProbeConfigRole(path string) (Role, error) {
	f, err := os.Open(path)
	if err != nil {
		return RoleUnknown, kerrors.New(kerrors.ConfigInvalid, "config.ProbeConfigRole", err)
	}
	defer f.Close()

	sawMonitor, sawPostgresql := false, false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "[monitor]":
			sawMonitor = true
		case "[postgresql]":
			sawPostgresql = true
		}
	}
	if err := scanner.Err(); err != nil {
		return RoleUnknown, kerrors.New(kerrors.ConfigInvalid, "config.ProbeConfigRole", err)
	}

	switch {
	case sawPostgresql:
		return RoleKeeper, nil
	case sawMonitor:
		return RoleMonitor, nil
	default:
		return RoleUnknown, nil
	}
}

// WriteFile serializes cfg back into INI form, used by `pg_autoctl config
// set`.
func WriteFile(path string, cfg *KeeperConfig) error {
	var b strings.Builder

	monitor := cfg.MonitorURI
	if cfg.MonitorDisabled {
		monitor = "disabled"
	}

	fmt.Fprintln(&b, "[pg_autoctl]")
	fmt.Fprintf(&b, "formation = %s\n", cfg.Formation)
	fmt.Fprintf(&b, "nodename = %s\n", cfg.NodeName)
	fmt.Fprintf(&b, "monitor = %s\n\n", monitor)

	fmt.Fprintln(&b, "[postgresql]")
	fmt.Fprintf(&b, "pgdata = %s\n", cfg.PgSetup.PgData)
	fmt.Fprintf(&b, "pgport = %d\n", cfg.PgSetup.PgPort)
	fmt.Fprintf(&b, "auth_method = %s\n\n", cfg.PgSetup.AuthMethod)

	fmt.Fprintln(&b, "[replication]")
	fmt.Fprintf(&b, "slot_name = %s\n", cfg.ReplicationSlotName)
	fmt.Fprintf(&b, "password = %s\n\n", cfg.ReplicationPassword)

	fmt.Fprintln(&b, "[timeout]")
	fmt.Fprintf(&b, "network_partition_timeout = %d\n\n", cfg.NetworkPartitionTimeoutSeconds)

	fmt.Fprintln(&b, "[httpd]")
	fmt.Fprintf(&b, "listen_address = %s\n", cfg.HTTPD.ListenAddress)
	fmt.Fprintf(&b, "port = %d\n", cfg.HTTPD.Port)

	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return kerrors.New(kerrors.ConfigInvalid, "config.WriteFile", err)
	}
	return nil
}

// ReloadableFieldsAccepted copies only the reloadable fields (timeouts,
// httpd address/port) from newCfg into cfg. The non-reloadable fields of
// cfg (formation, nodename, pgport, monitor_uri) are left untouched.
func (c *KeeperConfig) ReloadableFieldsAccepted(newCfg *KeeperConfig) {
	c.NetworkPartitionTimeoutSeconds = newCfg.NetworkPartitionTimeoutSeconds
	c.HTTPD = newCfg.HTTPD
}

// Reload re-reads the config file at c.Paths.Config and applies only the
// reloadable fields. On parse error the current config is kept as-is.
func (c *KeeperConfig) Reload() error {
	if _, err := os.Stat(c.Paths.Config); err != nil {
		return kerrors.New(kerrors.ConfigInvalid, "config.Reload", fmt.Errorf("config file %q does not exist: %w", c.Paths.Config, err))
	}

	newCfg, err := ReadFile(c.Paths.Config)
	if err != nil {
		return err
	}

	c.ReloadableFieldsAccepted(newCfg)
	return nil
}
