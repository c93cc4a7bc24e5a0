// Package signals is the single process-wide signal-intake abstraction
// the reconcile loop polls at its named barriers, replacing the original
// keeper's process-wide volatile flags set from async signal handlers with
// an atomic.Bool per flag -- still polled, never a channel the loop blocks
// on, so a signal that arrives mid-tick is picked up at the next barrier
// rather than interrupting work in flight.
package signals

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Intake tracks the three signal-derived flags the reconcile loop and
// supervisor consult: reload, graceful stop, fast stop.
type Intake struct {
	reload   atomic.Bool
	stop     atomic.Bool
	stopFast atomic.Bool
}

func New() *Intake {
	return &Intake{}
}

// Listen installs os/signal handling and publishes every received signal
// to the corresponding flag until ctx is done. Call it once per process;
// SIGHUP sets Reload, SIGTERM sets Stop, SIGINT and SIGQUIT set StopFast.
func (i *Intake) Listen(ctx context.Context) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				switch sig {
				case syscall.SIGHUP:
					i.reload.Store(true)
				case syscall.SIGTERM:
					i.stop.Store(true)
				case syscall.SIGINT, syscall.SIGQUIT:
					i.stopFast.Store(true)
				}
			}
		}
	}()
}

// ConsumeReload reports whether a reload was requested since the last
// call, clearing the flag.
func (i *Intake) ConsumeReload() bool {
	return i.reload.Swap(false)
}

// StopRequested reports whether a graceful stop was requested. Unlike
// ConsumeReload this does not clear: once asked to stop, the loop stays
// asked until it exits.
func (i *Intake) StopRequested() bool {
	return i.stop.Load()
}

// StopFastRequested reports whether a fast (immediate) stop was requested.
func (i *Intake) StopFastRequested() bool {
	return i.stopFast.Load()
}

// RequestStop and RequestStopFast let callers other than the OS signal
// handler (the supervisor's shutdown path, tests) trigger the same flags.
func (i *Intake) RequestStop() {
	i.stop.Store(true)
}

func (i *Intake) RequestStopFast() {
	i.stopFast.Store(true)
}
