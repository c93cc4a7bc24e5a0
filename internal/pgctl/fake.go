package pgctl

import "context"

// Fake is a deterministic, in-memory PgController double for exercising the
// FSM executor and reconcile loop without a real PostgreSQL instance.
type Fake struct {
	Status Status

	Calls []string

	StartErr      error
	StopErr       error
	PromoteErr    error
	ProbeErr      error
	HasReplicaVal bool
	HasReplicaErr error
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *Fake) Probe(ctx context.Context) (Status, error) {
	f.record("Probe")
	if f.ProbeErr != nil {
		return Status{}, f.ProbeErr
	}
	return f.Status, nil
}

func (f *Fake) HasReplica(ctx context.Context, replicationUser string) (bool, error) {
	f.record("HasReplica")
	if f.HasReplicaErr != nil {
		return false, f.HasReplicaErr
	}
	return f.HasReplicaVal, nil
}

func (f *Fake) Start(ctx context.Context) error {
	f.record("Start")
	if f.StartErr != nil {
		return f.StartErr
	}
	f.Status.IsRunning = true
	return nil
}

func (f *Fake) Stop(ctx context.Context) error {
	f.record("Stop")
	if f.StopErr != nil {
		return f.StopErr
	}
	f.Status.IsRunning = false
	return nil
}

func (f *Fake) Restart(ctx context.Context) error {
	f.record("Restart")
	f.Status.IsRunning = true
	return nil
}

func (f *Fake) ReloadConf(ctx context.Context) error {
	f.record("ReloadConf")
	return nil
}

func (f *Fake) Promote(ctx context.Context) error {
	f.record("Promote")
	if f.PromoteErr != nil {
		return f.PromoteErr
	}
	f.Status.IsPrimary = true
	return nil
}

func (f *Fake) RewindTo(ctx context.Context, primaryHost string, primaryPort int) error {
	f.record("RewindTo")
	f.Status.IsPrimary = false
	return nil
}

func (f *Fake) InitStandby(ctx context.Context, primaryHost string, primaryPort int, replicationUser string) error {
	f.record("InitStandby")
	f.Status.IsRunning = true
	f.Status.IsPrimary = false
	return nil
}

func (f *Fake) AddDefaultSettings(ctx context.Context) error {
	f.record("AddDefaultSettings")
	return nil
}

func (f *Fake) CreateReplicationSlot(ctx context.Context, slotName string) error {
	f.record("CreateReplicationSlot")
	return nil
}

func (f *Fake) DropReplicationSlot(ctx context.Context, slotName string) error {
	f.record("DropReplicationSlot")
	return nil
}

func (f *Fake) EnableSyncRep(ctx context.Context) error {
	f.record("EnableSyncRep")
	return nil
}

func (f *Fake) DisableSyncRep(ctx context.Context) error {
	f.record("DisableSyncRep")
	return nil
}

func (f *Fake) CreateMonitorUser(ctx context.Context, username, password string) error {
	f.record("CreateMonitorUser")
	return nil
}

func (f *Fake) CreateReplicationUser(ctx context.Context, username, password string) error {
	f.record("CreateReplicationUser")
	return nil
}

func (f *Fake) AddStandbyToHBA(ctx context.Context, hostname, cidr string) error {
	f.record("AddStandbyToHBA")
	return nil
}
