// Package pgctl wraps the local PostgreSQL instance: the probe, lifecycle,
// role-transition, and configuration primitives PgController exposes to
// the FSM executor. The real implementation (Controller) mixes pgx
// queries for probing with os/exec invocations for lifecycle control:
// pgx.Connect for SELECT queries, exec.Command for pg_ctl/pg_rewind/
// pg_basebackup.
package pgctl

import (
	"context"
)

// Status is a snapshot of the locally observable PostgreSQL state, per
// probe primitives.
type Status struct {
	IsRunning    bool
	IsPrimary    bool
	WalLSN       string
	WalLagBytes  int64
	SyncState    string
	HasReplica   bool
}

// PgController is the interface the reconcile loop and FSM executor
// program against; Controller is the pgx/exec-backed implementation, and
// fake.go (test-only) provides a deterministic double.
type PgController interface {
	Probe(ctx context.Context) (Status, error)
	HasReplica(ctx context.Context, replicationUser string) (bool, error)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	ReloadConf(ctx context.Context) error

	Promote(ctx context.Context) error
	RewindTo(ctx context.Context, primaryHost string, primaryPort int) error
	InitStandby(ctx context.Context, primaryHost string, primaryPort int, replicationUser string) error

	AddDefaultSettings(ctx context.Context) error
	CreateReplicationSlot(ctx context.Context, slotName string) error
	DropReplicationSlot(ctx context.Context, slotName string) error
	EnableSyncRep(ctx context.Context) error
	DisableSyncRep(ctx context.Context) error

	CreateMonitorUser(ctx context.Context, username, password string) error
	CreateReplicationUser(ctx context.Context, username, password string) error
	AddStandbyToHBA(ctx context.Context, hostname, cidr string) error
}
