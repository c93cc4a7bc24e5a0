// Package partition implements the guard on the Primary -> DemoteTimeout
// edge: it decides whether a primary that has lost the monitor is in a
// true network partition, or merely waiting out a blip inside the grace
// window.
package partition

// Decision is the result of one evaluation.
type Decision struct {
	// Partitioned is true once both the monitor and any standby have been
	// unreachable for longer than the timeout. The caller must respond by
	// setting assigned_role = DemoteTimeout.
	Partitioned bool

	// LastSecondaryContact is the value the caller should persist: now, if
	// a standby is currently connected; unchanged otherwise.
	LastSecondaryContact int64
}

// Evaluate implements the decision procedure: a streaming standby
// currently connected means the primary is not partitioned regardless of
// monitor reachability; otherwise both the monitor and the last-seen
// standby must have been silent for longer than timeoutSeconds before the
// primary is allowed to demote itself.
//
// now and the two last-contact timestamps are epoch seconds (0 meaning
// "never"). hasReplica comes from a live probe taken this tick, not from a
// cached status field.
func Evaluate(now, lastMonitorContact, lastSecondaryContact int64, timeoutSeconds int, hasReplica bool) Decision {
	if hasReplica {
		return Decision{Partitioned: false, LastSecondaryContact: now}
	}

	monitorLag := now - lastMonitorContact
	secondaryLag := now - lastSecondaryContact

	partitioned := lastMonitorContact > 0 && lastSecondaryContact > 0 &&
		monitorLag > int64(timeoutSeconds) && secondaryLag > int64(timeoutSeconds)

	return Decision{Partitioned: partitioned, LastSecondaryContact: lastSecondaryContact}
}
