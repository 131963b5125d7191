// Package lifecycle keeps the machine awake while heart rate is being
// monitored and coordinates an orderly shutdown on termination signals.
package lifecycle

import (
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTerminateWait = 2 * time.Second
	killWait             = time.Second
)

// helperPID mirrors the pid of the running keep-awake helper so the crash
// path can reach it from a signal or panic context. Zero means none.
var helperPID atomic.Int64

// Guard owns the keep-awake helper process. At most one helper runs per process.
type Guard struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	command func() *exec.Cmd
	wait    time.Duration
	logger  *logrus.Logger
}

// NewGuard creates a guard for the current platform's keep-awake helper.
func NewGuard(logger *logrus.Logger) *Guard {
	if logger == nil {
		logger = logrus.New()
	}
	return &Guard{
		command: helperCommand,
		wait:    defaultTerminateWait,
		logger:  logger,
	}
}

// Acquire starts the helper unless one is already held.
// Platforms without a helper succeed without doing anything.
func (g *Guard) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cmd != nil {
		return nil
	}

	cmd := g.command()
	if cmd == nil {
		g.logger.Debug("System sleep prevention is not supported on this platform")
		return nil
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	g.cmd = cmd
	g.exited = exited
	helperPID.Store(int64(cmd.Process.Pid))

	g.logger.WithFields(logrus.Fields{
		"helper": cmd.Path,
		"pid":    cmd.Process.Pid,
	}).Info("System sleep prevention activated")
	return nil
}

// Held reports whether a helper is currently owned by the guard.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cmd != nil
}

// Release terminates the helper: SIGTERM, a bounded wait, then SIGKILL.
// Calling it again, or after CrashRelease, does nothing.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cmd == nil {
		return nil
	}
	pid := g.cmd.Process.Pid
	exited := g.exited
	g.cmd = nil
	g.exited = nil

	// The crash path got there first and already killed it.
	if !helperPID.CompareAndSwap(int64(pid), 0) {
		waitExit(exited, killWait)
		return nil
	}

	log := g.logger.WithField("pid", pid)
	if err := terminate(pid); err != nil {
		log.WithError(err).Debug("Graceful terminate failed")
	}
	if !waitExit(exited, g.wait) {
		log.Warn("Sleep prevention helper ignored SIGTERM, killing it")
		if err := kill(pid); err != nil {
			return fmt.Errorf("failed to stop sleep prevention helper %d: %w", pid, err)
		}
		waitExit(exited, killWait)
	}

	log.Info("System sleep prevention deactivated")
	return nil
}

// CrashRelease force-kills the helper without waiting. It takes no locks and
// does not allocate, so it is safe from signal handlers and panic hooks.
func CrashRelease() {
	if pid := helperPID.Swap(0); pid > 0 {
		_ = kill(int(pid))
	}
}

// RecoverAndRelease is meant to be deferred first in main: on panic it kills
// the helper and re-panics.
func RecoverAndRelease() {
	if r := recover(); r != nil {
		CrashRelease()
		panic(r)
	}
}

func waitExit(exited <-chan struct{}, d time.Duration) bool {
	if exited == nil {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-exited:
		return true
	case <-t.C:
		return false
	}
}
