package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/httpd"
	"github.com/gmr/pg-auto-failover/internal/monitorclient"
	"github.com/gmr/pg-auto-failover/internal/pgctl"
	"github.com/gmr/pg-auto-failover/internal/pidguard"
	"github.com/gmr/pg-auto-failover/internal/reconcile"
	"github.com/gmr/pg-auto-failover/internal/signals"
	"github.com/gmr/pg-auto-failover/internal/state"
)

func TestSupervisor_RunStopsCleanlyOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "pg_autoctl.state")
	pidPath := filepath.Join(dir, "pg_autoctl.pid")
	configPath := filepath.Join(dir, "pg_autoctl.cfg")
	require.NoError(t, os.WriteFile(configPath, []byte("[pg_autoctl]\nformation=f\n[postgresql]\npgdata="+dir+"\n"), 0o600))

	store := state.NewFileStateStore(statePath)
	require.NoError(t, store.Write(state.KeeperState{CurrentRole: state.Init, AssignedRole: state.Init}))

	mon := monitorclient.NewFake()
	mon.Assignment = monitorclient.Assignment{AssignedState: state.Init}

	loop := &reconcile.Loop{
		Config: &config.KeeperConfig{
			Formation: "f",
			NodeName:  "node-a",
			PgSetup:   config.PgSetup{PgPort: 5432},
		},
		Store:     store,
		Pg:        pgctl.NewFake(),
		Monitor:   mon,
		PidGuard:  pidguard.NewFilePidGuard(pidPath),
		Signals:   signals.New(),
		StartPid:  os.Getpid(),
		SleepTime: time.Millisecond,
	}

	sup := &Supervisor{
		Loop:       loop,
		HTTPAddr:   "127.0.0.1:0",
		StatePath:  statePath,
		ConfigPath: configPath,
		PidGuard:   loop.PidGuard,
		Signals:    loop.Signals,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after context cancellation")
	}

	_, err := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err), "pid file should be removed on clean shutdown")
}

func TestRunHTTPServer_ReturnsNilOnContextCancel(t *testing.T) {
	srv := httpd.New("", "")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := runHTTPServer(ctx, srv, "127.0.0.1:0")
	assert.NoError(t, err)
}

func TestCompleteInterruptedInit_RemovesLeftoverMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "pg_autoctl.init")
	require.NoError(t, os.WriteFile(marker, []byte{}, 0o600))

	s := &Supervisor{InitMarker: marker}
	require.NoError(t, s.completeInterruptedInit())

	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
}

func TestCompleteInterruptedInit_NoMarkerIsNoop(t *testing.T) {
	s := &Supervisor{InitMarker: filepath.Join(t.TempDir(), "pg_autoctl.init")}
	assert.NoError(t, s.completeInterruptedInit())
}
