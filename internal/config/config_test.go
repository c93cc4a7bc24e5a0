package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "pg_autoctl.cfg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sampleCfg = `
[pg_autoctl]
formation = default
nodename = node-a

[postgresql]
pgdata = /var/lib/postgresql/16/main
pgport = 5432
auth_method = trust

[replication]
slot_name = pgautofailover_standby
password = s3cret

[timeout]
network_partition_timeout = 20

[httpd]
listen_address = *
port = 8080
`

func TestReadFile_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[pg_autoctl]\nmonitor = postgres://monitor/pg_auto_failover\n"+sampleCfg)

	cfg, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Formation)
	assert.Equal(t, "node-a", cfg.NodeName)
	assert.Equal(t, "postgres://monitor/pg_auto_failover", cfg.MonitorURI)
	assert.Equal(t, 5432, cfg.PgSetup.PgPort)
	assert.Equal(t, 20, cfg.NetworkPartitionTimeoutSeconds)
	assert.Equal(t, 8080, cfg.HTTPD.Port)
	assert.Equal(t, path, cfg.Paths.Config)
}

func TestReadFile_MissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleCfg) // no monitor_uri

	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestReadFile_MalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[pg_autoctl]\nthis line has no equals sign\n")

	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestWriteFileThenReadFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pg_autoctl.cfg")

	cfg := &KeeperConfig{
		Formation:                      "default",
		NodeName:                       "node-a",
		PgSetup:                        PgSetup{PgData: "/data/pg", PgPort: 5433, AuthMethod: "md5"},
		MonitorURI:                     "postgres://monitor/pg_auto_failover",
		ReplicationSlotName:            "pgautofailover_standby",
		ReplicationPassword:            "secret",
		NetworkPartitionTimeoutSeconds: 45,
		HTTPD:                          HTTPD{ListenAddress: "127.0.0.1", Port: 9000},
	}

	require.NoError(t, WriteFile(path, cfg))

	got, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Formation, got.Formation)
	assert.Equal(t, cfg.NodeName, got.NodeName)
	assert.Equal(t, cfg.PgSetup, got.PgSetup)
	assert.Equal(t, cfg.MonitorURI, got.MonitorURI)
	assert.Equal(t, cfg.NetworkPartitionTimeoutSeconds, got.NetworkPartitionTimeoutSeconds)
	assert.Equal(t, cfg.HTTPD, got.HTTPD)
}

func TestReload_AcceptsOnlyReloadableFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[pg_autoctl]\nmonitor = postgres://monitor/pg_auto_failover\n"+sampleCfg)

	cfg, err := ReadFile(path)
	require.NoError(t, err)

	// Mutate the on-disk file: change both a reloadable field (timeout) and
	// a non-reloadable one (formation). Reload must pick up the former and
	// reject the latter.
	updated := "[pg_autoctl]\nmonitor = postgres://monitor/pg_auto_failover\n" + sampleCfg
	updated = replaceOnce(updated, "formation = default", "formation = renamed")
	updated = replaceOnce(updated, "network_partition_timeout = 20", "network_partition_timeout = 99")
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.NoError(t, cfg.Reload())

	assert.Equal(t, "default", cfg.Formation, "formation must not change across reload")
	assert.Equal(t, 99, cfg.NetworkPartitionTimeoutSeconds)
}

func TestReload_MissingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[pg_autoctl]\nmonitor = postgres://monitor/pg_auto_failover\n"+sampleCfg)

	cfg, err := ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	assert.Error(t, cfg.Reload())
}

func replaceOnce(s, old, new string) string {
	i := indexOf(s, old)
	if i < 0 {
		return s
	}
	return s[:i] + new + s[i+len(old):]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
