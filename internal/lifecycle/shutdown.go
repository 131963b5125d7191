package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/groutine"
)

const defaultGracePeriod = 10 * time.Second

var (
	// ErrShutdownTimeout means the work did not drain within the grace period.
	ErrShutdownTimeout = errors.New("shutdown grace period exceeded")
	// ErrForcedShutdown means a second signal arrived while draining.
	ErrForcedShutdown = errors.New("shutdown forced by second signal")
)

// Coordinator runs the monitor and turns OS termination signals into one
// orderly shutdown. A shutdown request always wins over whatever the work is
// doing: the work context is cancelled and the work gets a grace period to drain.
type Coordinator struct {
	logger  *logrus.Logger
	grace   time.Duration
	signals []os.Signal
	notify  func(c chan<- os.Signal, sig ...os.Signal)
	stop    func(c chan<- os.Signal)
	crash   func()
}

func NewCoordinator(logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		logger:  logger,
		grace:   defaultGracePeriod,
		signals: shutdownSignals,
		notify:  signal.Notify,
		stop:    signal.Stop,
		crash:   CrashRelease,
	}
}

// WithGracePeriod overrides how long the work may take to drain.
func (c *Coordinator) WithGracePeriod(d time.Duration) *Coordinator {
	c.grace = d
	return c
}

// Run executes work until it returns or a shutdown is requested.
//
// On the first signal (or ctx cancellation) the work context is cancelled.
// If the work does not return within the grace period, or a second signal
// arrives, the crash path runs and Run returns without waiting further.
// A panic inside work also triggers the crash path.
func (c *Coordinator) Run(ctx context.Context, work func(ctx context.Context) error) error {
	sigCh := make(chan os.Signal, 2)
	c.notify(sigCh, c.signals...)
	defer c.stop(sigCh)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	task := groutine.Start(workCtx, "monitor", work)

	select {
	case <-task.Done():
		return c.finish(task.Err())
	case sig := <-sigCh:
		c.logger.WithField("signal", sig.String()).Info("Shutdown requested")
	case <-ctx.Done():
		c.logger.Info("Shutdown requested")
	}
	cancel()

	timer := time.NewTimer(c.grace)
	defer timer.Stop()

	select {
	case <-task.Done():
		return c.finish(task.Err())
	case sig := <-sigCh:
		c.logger.WithField("signal", sig.String()).Warn("Second signal received, forcing exit")
		c.crash()
		return ErrForcedShutdown
	case <-timer.C:
		c.logger.WithField("grace_period", c.grace).Error("Shutdown did not complete in time, forcing exit")
		c.crash()
		return ErrShutdownTimeout
	}
}

func (c *Coordinator) finish(err error) error {
	if errors.Is(err, groutine.ErrPanic) {
		c.logger.WithError(err).Error("Monitor panicked")
		c.crash()
		return err
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
