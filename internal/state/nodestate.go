// Package state owns the on-disk representation of a keeper's node state:
// the NodeState enumeration, the KeeperState record, and the StateStore
// that persists it crash-atomically.
package state

import "fmt"

// NodeState is a role the FSM recognizes. The zero value is not a valid
// state; readers must reject it.
type NodeState int

const (
	NoState NodeState = iota
	Init
	Single
	WaitPrimary
	Primary
	WaitStandby
	CatchingUp
	Secondary
	Maintenance
	Draining
	Demoted
	DemoteTimeout
	StopReplication
	PrepPromotion
	StandbyPromoted
)

var nodeStateNames = map[NodeState]string{
	Init:            "init",
	Single:          "single",
	WaitPrimary:     "wait_primary",
	Primary:         "primary",
	WaitStandby:     "wait_standby",
	CatchingUp:      "catchingup",
	Secondary:       "secondary",
	Maintenance:     "maintenance",
	Draining:        "draining",
	Demoted:         "demoted",
	DemoteTimeout:   "demote_timeout",
	StopReplication: "stop_replication",
	PrepPromotion:   "prep_promotion",
	StandbyPromoted: "standby_promoted",
}

var nodeStateByName = func() map[string]NodeState {
	m := make(map[string]NodeState, len(nodeStateNames))
	for state, name := range nodeStateNames {
		m[name] = state
	}
	return m
}()

// String implements fmt.Stringer.
func (s NodeState) String() string {
	if name, ok := nodeStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown_state(%d)", int(s))
}

// Valid reports whether s is a state the FSM recognizes. The zero value
// NoState is intentionally invalid: every on-disk or wire-level decode must
// reject it rather than silently treating it as a legal role.
func (s NodeState) Valid() bool {
	_, ok := nodeStateNames[s]
	return ok
}

// ParseNodeState parses the wire/config representation of a NodeState,
// rejecting unknown values: a keeper must never silently treat a garbled
// or forward-incompatible role as a legal one.
func ParseNodeState(name string) (NodeState, error) {
	if s, ok := nodeStateByName[name]; ok {
		return s, nil
	}
	return NoState, fmt.Errorf("unknown node state %q", name)
}
