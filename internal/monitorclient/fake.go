package monitorclient

import (
	"context"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/state"
)

// Fake is a deterministic, in-memory MonitorClient double for exercising
// the reconcile loop and partition detector without a real monitor
// connection.
type Fake struct {
	Assignment    Assignment
	NodeActiveErr error

	RegisterResult RegisterResult
	RegisterErr    error

	RemoveErr error

	Version    string
	VersionErr error

	Reports []Report
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) NodeActive(ctx context.Context, report Report) (Assignment, error) {
	f.Reports = append(f.Reports, report)
	if f.NodeActiveErr != nil {
		return Assignment{}, kerrors.New(kerrors.MonitorUnreachable, "monitorclient.Fake.NodeActive", f.NodeActiveErr)
	}
	return f.Assignment, nil
}

func (f *Fake) Register(ctx context.Context, formation, nodename string, port int, initialState state.NodeState) (RegisterResult, error) {
	if f.RegisterErr != nil {
		return RegisterResult{}, kerrors.New(kerrors.MonitorUnreachable, "monitorclient.Fake.Register", f.RegisterErr)
	}
	return f.RegisterResult, nil
}

func (f *Fake) Remove(ctx context.Context, nodeID int64, groupID int32) error {
	if f.RemoveErr != nil {
		return kerrors.New(kerrors.MonitorUnreachable, "monitorclient.Fake.Remove", f.RemoveErr)
	}
	return nil
}

func (f *Fake) ExtensionVersion(ctx context.Context) (string, error) {
	if f.VersionErr != nil {
		return "", kerrors.New(kerrors.MonitorUnreachable, "monitorclient.Fake.ExtensionVersion", f.VersionErr)
	}
	return f.Version, nil
}
