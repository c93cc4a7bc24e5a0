// Package pidguard enforces the single-keeper-per-PGDATA invariant of
// "one keeper process per PGDATA at a time" invariant. FilePidGuard is
// the default, local implementation; EtcdPidGuard (etcd.go) is an optional
// distributed variant for deployments that already run etcd for other
// coordination purposes.
package pidguard

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gmr/pg-auto-failover/internal/kerrors"
)

// Guard is the single-keeper-per-PGDATA enforcement contract: acquire once
// at startup, re-check at every reconcile tick, release on shutdown.
// FilePidGuard is the default, local implementation; EtcdPidGuard (etcd.go)
// is the distributed one selected by `run --pid-backend etcd`.
type Guard interface {
	Acquire() error
	Release() error
	Check(startPid int) error
}

// FilePidGuard enforces single-ownership of a PGDATA directory using a PID
// file: acquire exclusively or fail fast.
type FilePidGuard struct {
	path string
}

func NewFilePidGuard(path string) *FilePidGuard {
	return &FilePidGuard{path: path}
}

// Acquire creates the PID file, refusing to start if a live process already
// holds it. A PID file referring to a process that is no longer alive is
// considered stale and is silently reclaimed, matching
// create_pidfile/check_pidfile's liveness probe via kill(pid, 0).
func (g *FilePidGuard) Acquire() error {
	existing, err := readPidFile(g.path)
	if err == nil {
		if processAlive(existing) {
			return kerrors.New(kerrors.PidConflict, "pidguard.Acquire",
				fmt.Errorf("pid file %q already held by live process %d", g.path, existing))
		}
		// Stale: the previous keeper crashed without cleaning up.
	} else if !os.IsNotExist(err) {
		return kerrors.New(kerrors.InternalError, "pidguard.Acquire", err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(g.path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return kerrors.New(kerrors.InternalError, "pidguard.Acquire", err)
	}
	return nil
}

// Release removes the PID file if and only if it still names this process,
// so a PID file left behind by a stale-reclaim race is never torn down by
// the wrong process.
func (g *FilePidGuard) Release() error {
	existing, err := readPidFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return kerrors.New(kerrors.InternalError, "pidguard.Release", err)
	}
	if existing != os.Getpid() {
		return nil
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return kerrors.New(kerrors.InternalError, "pidguard.Release", err)
	}
	return nil
}

// Check re-reads the PID file and confirms it still names startPid. It is
// called at the top of every reconcile tick; a missing file or a file
// naming a different PID means an operator has started a second keeper (or
// stolen the PID file) against the same PGDATA, and the caller must exit
// immediately without touching state.
func (g *FilePidGuard) Check(startPid int) error {
	current, err := readPidFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return kerrors.New(kerrors.PidConflict, "pidguard.Check",
				fmt.Errorf("pid file %q is missing", g.path))
		}
		return kerrors.New(kerrors.PidConflict, "pidguard.Check", err)
	}
	if current != startPid {
		return kerrors.New(kerrors.PidConflict, "pidguard.Check",
			fmt.Errorf("pid file %q now names %d, not %d", g.path, current, startPid))
	}
	return nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %q contains garbage: %w", path, err)
	}
	return pid, nil
}

// processAlive reports whether pid names a live process, via the same
// signal-0 liveness probe (kill(pid, 0)).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}
