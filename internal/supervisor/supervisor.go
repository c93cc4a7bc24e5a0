// Package supervisor ties the reconcile loop, the status server, and
// signal routing together into one process. Per Design Note §9, the
// original forks two subprocesses (the "node_active" loop and httpd); this
// repository instead runs them as two goroutines under one errgroup.Group,
// exactly as daemon.go's daemon() runs leaderReconcilerLoop,
// nodeReconcilerLoop, and runHealthCheckServer together. The invariant
// that matters -- one writer of state, readers see complete records -- is
// unaffected by which concurrency primitive provides the isolation.
package supervisor

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/gmr/pg-auto-failover/internal/httpd"
	"github.com/gmr/pg-auto-failover/internal/kerrors"
	"github.com/gmr/pg-auto-failover/internal/pidguard"
	"github.com/gmr/pg-auto-failover/internal/reconcile"
	"github.com/gmr/pg-auto-failover/internal/signals"
)

// maxStatusServerRestarts bounds how many times Supervisor restarts a
// crashed status server before giving up on it -- the status endpoint is
// convenience, not safety, so unlike the reconcile loop it is allowed to
// stay down rather than taking the whole process with it.
const maxStatusServerRestarts = 5

// Supervisor owns process-level concerns: PID-file lifecycle across
// startup/shutdown, routing OS signals into the shared signals.Intake, and
// the subprocess-failure propagation policy of
// original_source's service_supervisor -- an unexpected reconcile-loop
// exit brings the whole group down; a crashed status server is restarted
// up to maxStatusServerRestarts times before being left down.
type Supervisor struct {
	Loop       *reconcile.Loop
	HTTPAddr   string
	StatePath  string
	ConfigPath string
	PidGuard   pidguard.Guard
	InitMarker string
	Signals    *signals.Intake
}

// Run resumes any interrupted first-boot, acquires the PID guard, then
// runs the reconcile loop and status server concurrently until the
// reconcile loop exits (cleanly or with an error) or ctx is canceled. The
// status server giving up on its own does not end Run.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.completeInterruptedInit(); err != nil {
		return err
	}

	if err := s.PidGuard.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := s.PidGuard.Release(); err != nil {
			log.Printf("supervisor: failed to release pid file: %v", err)
		}
	}()

	s.Signals.Listen(ctx)

	g, gctx := errgroup.WithContext(ctx)
	gctx, stopGroup := context.WithCancel(gctx)
	defer stopGroup()

	g.Go(func() error {
		// A clean loop exit (graceful or fast stop) also stops the status server.
		defer stopGroup()
		err := s.Loop.Run(gctx)
		if err != nil {
			log.Printf("supervisor: reconcile loop exited with error: %v", err)
		}
		return err
	})

	g.Go(func() error {
		return s.runStatusServerWithRestarts(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runStatusServerWithRestarts runs the status server, restarting it up to
// maxStatusServerRestarts times on unexpected exit, and returning nil once
// ctx is canceled (a clean shutdown, not a crash).
func (s *Supervisor) runStatusServerWithRestarts(ctx context.Context) error {
	srv := httpd.New(s.ConfigPath, s.StatePath)

	for attempt := 0; ; attempt++ {
		err := runHTTPServer(ctx, srv, s.HTTPAddr)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if attempt >= maxStatusServerRestarts {
			log.Printf("supervisor: status server failed %d times, giving up: %v", attempt+1, err)
			return nil
		}
		log.Printf("supervisor: status server crashed, restarting (attempt %d): %v", attempt+1, err)
	}
}

func runHTTPServer(ctx context.Context, srv *httpd.StatusServer, addr string) error {
	httpSrv := &http.Server{Addr: addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = httpSrv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// completeInterruptedInit mirrors service_init's handling of a leftover
// pg_autoctl.init marker: if `create` was interrupted before it finished,
// resuming is just clearing the marker, since StateStore.Write already
// leaves a well-formed (if incomplete) KeeperState behind -- there is no
// partially-written record to repair, only the marker that says "don't
// trust this yet" to remove.
func (s *Supervisor) completeInterruptedInit() error {
	if s.InitMarker == "" {
		return nil
	}
	if _, err := os.Stat(s.InitMarker); err != nil {
		return nil
	}
	log.Printf("supervisor: resuming interrupted create at %q", s.InitMarker)
	if err := os.Remove(s.InitMarker); err != nil {
		return kerrors.New(kerrors.InternalError, "supervisor.completeInterruptedInit", err)
	}
	return nil
}

// FatalExitCode returns the kerrors.Kind of an error returned from Run;
// exitcode.FromKind turns that Kind into the process exit code.
func FatalExitCode(err error) kerrors.Kind {
	return kerrors.KindOf(err)
}
