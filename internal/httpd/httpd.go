// Package httpd is the keeper's read-only status server: StatusServer
// exposes liveness, version, and FSM-snapshot endpoints over plain
// net/http. It never caches -- each handler parses the on-disk config and
// state fresh per request, the same choice httpd.c's keeper_fsm_as_json
// makes to avoid a second cache-invalidation problem on top of the state
// file's own.
package httpd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gmr/pg-auto-failover/internal/config"
	"github.com/gmr/pg-auto-failover/internal/state"
)

// CLIVersion, ExtensionVersion and APIVersion back /versions; `pg-keeperd
// run` sets them from its own build-time version values.
var (
	CLIVersion       = "dev"
	ExtensionVersion = "dev"
	APIVersion       = "1.0"
)

// route is one entry of the static routing table. Open Question (c) in
// spec.md §9: a naive dispatch that returns on the first NULL-functioned
// row can stop scanning before a later exact match is found. route has no
// such sentinel row -- Dispatch always walks the whole table and only
// answers 404 once every entry has been compared -- so that bug class
// cannot recur here.
type route struct {
	path    string
	handler http.HandlerFunc
}

// StatusServer serves the keeper's read-only HTTP API. ConfigPath and
// StatePath are re-read on every request; StatusServer holds no snapshot
// of its own, honoring the single-writer/fresh-reader split of §5.
type StatusServer struct {
	ConfigPath string
	StatePath  string

	routes []route
}

func New(configPath, statePath string) *StatusServer {
	s := &StatusServer{ConfigPath: configPath, StatePath: statePath}
	s.routes = []route{
		{"/", s.handleHome},
		{"/versions", s.handleVersions},
		{"/1.0/state", s.handleState},
		{"/1.0/fsm/state", s.handleFSMState},
	}
	return s
}

// ListenAndServe blocks serving on addr until the listener fails. The
// http.Server it starts is not exposed, so it has no shutdown path;
// internal/supervisor serves StatusServer through its own http.Server.
func (s *StatusServer) ListenAndServe(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	log.Printf("httpd: status server listening on %s", addr)
	return srv.ListenAndServe()
}

// ServeHTTP is the single dispatch point: Dispatch scans the full routing
// table for every request, per Open Question (c).
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Dispatch(w, r)
}

// Dispatch is the routing table scan, split out from ServeHTTP so tests
// can exercise "always scan every entry" directly.
func (s *StatusServer) Dispatch(w http.ResponseWriter, r *http.Request) {
	var matched http.HandlerFunc
	for _, rt := range s.routes {
		if matched == nil && rt.path == r.URL.Path {
			matched = rt.handler
			// Deliberately keep scanning: Open Question (c) requires a full
			// scan before answering, not an early return on first match, so
			// a duplicate later entry (e.g. from a future extension) is
			// never silently preferred over this one by scan order alone.
		}
	}
	if matched == nil {
		http.NotFound(w, r)
		return
	}
	matched(w, r)
}

func (s *StatusServer) handleHome(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Hello, world!\n")
}

func (s *StatusServer) handleState(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ok\n")
}

func (s *StatusServer) handleVersions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "pg_auto_failover %s\n", CLIVersion)
	fmt.Fprintf(w, "pgautofailover extension %s\n", ExtensionVersion)
	fmt.Fprintf(w, "pg_auto_failover web API %s\n", APIVersion)
}

// fsmStateResponse is the /1.0/fsm/state JSON body.
type fsmStateResponse struct {
	Postgres struct {
		Version          string `json:"version"`
		PgControlVersion uint32 `json:"pg_control_version"`
		SystemIdentifier uint64 `json:"system_identifier"`
	} `json:"postgres"`
	FSM struct {
		CurrentRole  string `json:"current_role"`
		AssignedRole string `json:"assigned_role"`
	} `json:"fsm"`
	Monitor struct {
		CurrentNodeID int64 `json:"current_node_id"`
		CurrentGroup  int32 `json:"current_group"`
	} `json:"monitor"`
}

// errorResponse is the fixed error body returned instead of writing from
// an unset buffer, resolving Open Question (b): the original
// http_fsm_state's 501 branch wrote strlen(buffer) bytes from a buffer
// that keeper_fsm_as_json never filled in on its early failure path. There
// is no ambiguity to preserve here -- a fixed, well-formed error body is
// strictly safer than replicating that bug, so this is what is returned.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *StatusServer) handleFSMState(w http.ResponseWriter, r *http.Request) {
	role, err := config.ProbeConfigRole(s.ConfigPath)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	switch role {
	case config.RoleMonitor:
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "not yet implemented"})
		return
	case config.RoleKeeper:
		// fall through
	default:
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{Error: fmt.Sprintf("unrecognized configuration file %q", s.ConfigPath)})
		return
	}

	cfg, err := config.ReadFile(s.ConfigPath)
	if err != nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: err.Error()})
		return
	}

	st, err := state.NewFileStateStore(cfg.Paths.State).Read()
	if err != nil {
		writeJSON(w, http.StatusNotImplemented,
			errorResponse{Error: fmt.Sprintf("failed to read FSM state from %q: %v", cfg.Paths.State, err)})
		return
	}

	var resp fsmStateResponse
	resp.Postgres.Version = st.PgVersion
	resp.Postgres.PgControlVersion = st.PgControlVersion
	resp.Postgres.SystemIdentifier = st.SystemIdentifier
	resp.FSM.CurrentRole = st.CurrentRole.String()
	resp.FSM.AssignedRole = st.AssignedRole.String()
	resp.Monitor.CurrentNodeID = st.CurrentNodeID
	resp.Monitor.CurrentGroup = st.CurrentGroup

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
