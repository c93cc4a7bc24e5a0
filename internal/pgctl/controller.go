package pgctl

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

// Controller is the pgx/exec-backed PgController. PGDATA and pg_ctl are
// driven via os/exec, invoking pg_ctl/pg_rewind/pg_basebackup directly;
// probing (Probe) goes over a pgx connection issuing read-only queries.
type Controller struct {
	pgData string
	pgPort int
	dsn    string
}

func NewController(pgData string, pgPort int, dsn string) *Controller {
	return &Controller{pgData: pgData, pgPort: pgPort, dsn: dsn}
}

func (c *Controller) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return nil, kerrors.New(kerrors.PgControllerFailure, "pgctl.connect", err)
	}
	return conn, nil
}

// Probe reports the locally observable state of PostgreSQL. A connection
// failure is not itself a kerrors.Error: the reconcile loop interprets
// "can't connect" as IsRunning=false, not as a fatal PgControllerFailure.
func (c *Controller) Probe(ctx context.Context) (Status, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return Status{IsRunning: false}, nil
	}
	defer conn.Close(ctx)

	var status Status
	status.IsRunning = true

	var inRecovery bool
	if err := conn.QueryRow(ctx, "SELECT pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return Status{}, kerrors.New(kerrors.PgControllerFailure, "pgctl.Probe", err)
	}
	status.IsPrimary = !inRecovery

	if status.IsPrimary {
		if err := conn.QueryRow(ctx, "SELECT pg_current_wal_lsn()::text").Scan(&status.WalLSN); err != nil {
			return Status{}, kerrors.New(kerrors.PgControllerFailure, "pgctl.Probe", err)
		}
		var replicaCount int
		if err := conn.QueryRow(ctx, "SELECT count(*) FROM pg_stat_replication").Scan(&replicaCount); err != nil {
			return Status{}, kerrors.New(kerrors.PgControllerFailure, "pgctl.Probe", err)
		}
		status.HasReplica = replicaCount > 0
		if status.HasReplica {
			_ = conn.QueryRow(ctx, "SELECT sync_state FROM pg_stat_replication LIMIT 1").Scan(&status.SyncState)
		}
	} else {
		if err := conn.QueryRow(ctx, "SELECT pg_last_wal_replay_lsn()::text").Scan(&status.WalLSN); err != nil {
			return Status{}, kerrors.New(kerrors.PgControllerFailure, "pgctl.Probe", err)
		}
		// Lag between WAL this standby has received and WAL it has replayed
		// so far; reported to the monitor so it can decide when a
		// CatchingUp node has caught up enough to be promoted to Secondary.
		if err := conn.QueryRow(ctx,
			"SELECT coalesce(pg_wal_lsn_diff(pg_last_wal_receive_lsn(), pg_last_wal_replay_lsn()), 0)",
		).Scan(&status.WalLagBytes); err != nil {
			return Status{}, kerrors.New(kerrors.PgControllerFailure, "pgctl.Probe", err)
		}
	}

	return status, nil
}

// HasReplica reports whether a streaming standby connected as
// replicationUser is currently attached. Used by the partition detector,
// which needs this as a live probe independent of the cached Status from
// the last tick.
func (c *Controller) HasReplica(ctx context.Context, replicationUser string) (bool, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return false, nil
	}
	defer conn.Close(ctx)

	var count int
	err = conn.QueryRow(ctx,
		"SELECT count(*) FROM pg_stat_replication WHERE usename = $1", replicationUser,
	).Scan(&count)
	if err != nil {
		return false, kerrors.New(kerrors.PgControllerFailure, "pgctl.HasReplica", err)
	}
	return count > 0, nil
}

func (c *Controller) run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return kerrors.New(kerrors.PgControllerFailure, fmt.Sprintf("pgctl.%s", name), err)
	}
	return nil
}

func (c *Controller) Start(ctx context.Context) error {
	return c.run("pg_ctl", "start", "-D", c.pgData, "-w")
}

func (c *Controller) Stop(ctx context.Context) error {
	return c.run("pg_ctl", "stop", "-D", c.pgData, "-m", "fast", "-w")
}

func (c *Controller) Restart(ctx context.Context) error {
	return c.run("pg_ctl", "restart", "-D", c.pgData, "-w")
}

func (c *Controller) ReloadConf(ctx context.Context) error {
	return c.run("pg_ctl", "reload", "-D", c.pgData)
}

func (c *Controller) Promote(ctx context.Context) error {
	return c.run("pg_ctl", "promote", "-D", c.pgData, "-w")
}

func (c *Controller) RewindTo(ctx context.Context, primaryHost string, primaryPort int) error {
	source := fmt.Sprintf("host=%s port=%d", primaryHost, primaryPort)
	return c.run("pg_rewind", "-D", c.pgData, "--source-server", source)
}

func (c *Controller) InitStandby(ctx context.Context, primaryHost string, primaryPort int, replicationUser string) error {
	if _, err := os.Stat(c.pgData); err == nil {
		return nil
	}
	return c.run("pg_basebackup",
		"-h", primaryHost,
		"-p", fmt.Sprint(primaryPort),
		"-U", replicationUser,
		"-D", c.pgData,
		"-R", "-P")
}

func (c *Controller) AddDefaultSettings(ctx context.Context) error {
	return c.execSQL(ctx,
		"ALTER SYSTEM SET wal_level = 'replica'",
		"ALTER SYSTEM SET max_wal_senders = 10",
		"ALTER SYSTEM SET hot_standby = 'on'",
	)
}

func (c *Controller) CreateReplicationSlot(ctx context.Context, slotName string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, "SELECT pg_create_physical_replication_slot($1)", slotName)
	if err != nil {
		return kerrors.New(kerrors.PgControllerFailure, "pgctl.CreateReplicationSlot", err)
	}
	return nil
}

func (c *Controller) DropReplicationSlot(ctx context.Context, slotName string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, "SELECT pg_drop_replication_slot($1)", slotName)
	if err != nil {
		return kerrors.New(kerrors.PgControllerFailure, "pgctl.DropReplicationSlot", err)
	}
	return nil
}

func (c *Controller) EnableSyncRep(ctx context.Context) error {
	return c.execSQL(ctx, "ALTER SYSTEM SET synchronous_standby_names = '*'")
}

func (c *Controller) DisableSyncRep(ctx context.Context) error {
	return c.execSQL(ctx, "ALTER SYSTEM SET synchronous_standby_names = ''")
}

func (c *Controller) CreateMonitorUser(ctx context.Context, username, password string) error {
	return c.execSQL(ctx, fmt.Sprintf(
		"CREATE USER %s WITH LOGIN SUPERUSER PASSWORD %s", pgident(username), pgliteral(password)))
}

func (c *Controller) CreateReplicationUser(ctx context.Context, username, password string) error {
	return c.execSQL(ctx, fmt.Sprintf(
		"CREATE USER %s WITH LOGIN REPLICATION PASSWORD %s", pgident(username), pgliteral(password)))
}

func (c *Controller) AddStandbyToHBA(ctx context.Context, hostname, cidr string) error {
	hbaPath := c.pgData + "/pg_hba.conf"
	line := fmt.Sprintf("\nhost replication all %s trust # %s\n", cidr, hostname)
	f, err := os.OpenFile(hbaPath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return kerrors.New(kerrors.PgControllerFailure, "pgctl.AddStandbyToHBA", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return kerrors.New(kerrors.PgControllerFailure, "pgctl.AddStandbyToHBA", err)
	}
	return c.ReloadConf(ctx)
}

func (c *Controller) execSQL(ctx context.Context, statements ...string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	for _, stmt := range statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return kerrors.New(kerrors.PgControllerFailure, "pgctl.execSQL", err)
		}
	}
	return nil
}

// pgident quotes an SQL identifier. Usernames in this system come from
// trusted configuration, not external input, but quoting keeps CREATE USER
// well-formed regardless.
func pgident(name string) string {
	return `"` + name + `"`
}

// pgliteral quotes an SQL string literal, doubling embedded single quotes.
func pgliteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
		} else {
			out = append(out, s[i])
		}
	}
	out = append(out, '\'')
	return string(out)
}
