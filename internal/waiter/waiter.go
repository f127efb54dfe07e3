// Package waiter is the core's default implementation of the process
// signal collaborator the spec treats as external (§1, §5): every sleep
// point in the daemon client and indexer goes through a Waiter so that
// SIGINT/SIGTERM abort promptly and SIGUSR1 can nudge a waiting update()
// without being mistaken for a shutdown request.
package waiter

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerwatch/turbo-electrs/internal/chainerr"
	"github.com/ledgerwatch/turbo-electrs/internal/logging"
)

var log = logging.New("component", "waiter")

// Waiter is satisfied by anything that can sleep interruptibly. The
// indexer and daemon depend on this interface, never on os/signal
// directly, so tests can inject a fake that fires immediately.
type Waiter interface {
	// Sleep blocks for d, or returns early with a chainerr.KindInterrupt
	// error on SIGINT/SIGTERM. If notifyUSR1 is true, SIGUSR1 also wakes
	// it, but with a nil error (advisory "new block" nudge, not a
	// shutdown).
	Sleep(d time.Duration, notifyUSR1 bool) error
	// Done reports whether a shutdown signal has already been observed.
	Done() bool
}

type osWaiter struct {
	sigCh    chan os.Signal
	shutdown chan struct{}
	nudge    chan struct{}
}

// New installs a signal handler for SIGINT, SIGTERM and SIGUSR1 and
// returns a Waiter backed by it. Call once per process.
func New() Waiter {
	w := &osWaiter{
		sigCh:    make(chan os.Signal, 4),
		shutdown: make(chan struct{}),
		nudge:    make(chan struct{}, 1),
	}
	signal.Notify(w.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go w.run()
	return w
}

func (w *osWaiter) run() {
	for sig := range w.sigCh {
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			log.Warn("received shutdown signal", "signal", sig)
			close(w.shutdown)
			return
		case syscall.SIGUSR1:
			log.Info("received new-block nudge")
			select {
			case w.nudge <- struct{}{}:
			default:
			}
		}
	}
}

func (w *osWaiter) Done() bool {
	select {
	case <-w.shutdown:
		return true
	default:
		return false
	}
}

func (w *osWaiter) Sleep(d time.Duration, notifyUSR1 bool) error {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return nil
		case <-w.shutdown:
			return chainerr.Interrupted(chainerr.Signum(syscall.SIGTERM))
		case <-w.nudge:
			if notifyUSR1 {
				return nil
			}
		}
	}
}
