package httpd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmr/pg-auto-failover/internal/state"
)

func writeKeeperConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "pg_autoctl.cfg")
	body := `
[pg_autoctl]
formation = default
nodename = node-a
monitor = postgres://monitor/pg_auto_failover

[postgresql]
pgdata = ` + dir + `
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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestHandleHome(t *testing.T) {
	s := New("", "")
	rec := httptest.NewRecorder()
	s.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, world!\n", rec.Body.String())
}

func TestHandleState(t *testing.T) {
	s := New("", "")
	rec := httptest.NewRecorder()
	s.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/1.0/state", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok\n", rec.Body.String())
}

func TestHandleVersions(t *testing.T) {
	s := New("", "")
	rec := httptest.NewRecorder()
	s.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/versions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pg_auto_failover")
	assert.Contains(t, rec.Body.String(), "pgautofailover extension")
	assert.Contains(t, rec.Body.String(), "pg_auto_failover web API")
}

func TestDispatch_UnknownPathIs404(t *testing.T) {
	s := New("", "")
	rec := httptest.NewRecorder()
	s.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/no/such/path", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFSMState_ReadsConfigAndStateFresh(t *testing.T) {
	dir := t.TempDir()
	configPath := writeKeeperConfig(t, dir)
	statePath := filepath.Join(dir, "pg_autoctl.state")

	require.NoError(t, state.NewFileStateStore(statePath).Write(state.KeeperState{
		CurrentRole:   state.Primary,
		AssignedRole:  state.Primary,
		CurrentNodeID: 7,
		CurrentGroup:  1,
	}))

	s := New(configPath, statePath)
	rec := httptest.NewRecorder()
	s.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/1.0/fsm/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp fsmStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "primary", resp.FSM.CurrentRole)
	assert.Equal(t, "primary", resp.FSM.AssignedRole)
	assert.Equal(t, int64(7), resp.Monitor.CurrentNodeID)

	// Mutate the state file on disk and confirm the next request reflects
	// it without any server-side cache to invalidate.
	require.NoError(t, state.NewFileStateStore(statePath).Write(state.KeeperState{
		CurrentRole:  state.Secondary,
		AssignedRole: state.Secondary,
	}))
	rec2 := httptest.NewRecorder()
	s.Dispatch(rec2, httptest.NewRequest(http.MethodGet, "/1.0/fsm/state", nil))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp))
	assert.Equal(t, "secondary", resp.FSM.CurrentRole)
}

func TestHandleFSMState_MissingStateReturnsFixedErrorBody(t *testing.T) {
	dir := t.TempDir()
	configPath := writeKeeperConfig(t, dir)
	statePath := filepath.Join(dir, "pg_autoctl.state") // never written

	s := New(configPath, statePath)
	rec := httptest.NewRecorder()
	s.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/1.0/fsm/state", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestHandleFSMState_UnrecognizedConfigReturns503(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "pg_autoctl.cfg")
	require.NoError(t, os.WriteFile(configPath, []byte("# empty, no recognizable sections\n"), 0o600))

	s := New(configPath, filepath.Join(dir, "pg_autoctl.state"))
	rec := httptest.NewRecorder()
	s.Dispatch(rec, httptest.NewRequest(http.MethodGet, "/1.0/fsm/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
