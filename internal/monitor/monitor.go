// Package monitor runs one heart-rate session: it starts the configured
// source, fans every sample out to the UI, the store and the throttled
// chatbox notifier, and drains everything on the way out.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/groutine"
	"github.com/srg/heartio/internal/heartrate"
	"github.com/srg/heartio/internal/sink"
	"github.com/srg/heartio/internal/source"
)

const (
	defaultLiveness    = 5 * time.Second
	defaultStopTimeout = 5 * time.Second
	sinkTimeout        = 2 * time.Second
)

// ErrAlreadyRun is returned when Run is called twice on the same Monitor.
var ErrAlreadyRun = errors.New("monitor already ran")

// Phase is the monitor's lifecycle position.
type Phase int32

const (
	Starting Phase = iota
	Running
	Draining
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Keeper holds the host awake while the monitor runs.
type Keeper interface {
	Acquire() error
	Release() error
}

// Options wires a Monitor. Only NewDriver is required.
type Options struct {
	// Source names the active source in status snapshots.
	Source string

	NewDriver    func() (source.Driver, error)
	OpenStore    func(ctx context.Context) (sink.Store, error)
	OpenNotifier func() (sink.Notifier, error)
	Guard        Keeper
	UI           sink.UI
	Selector     *heartrate.Selector
	Metrics      *Metrics
	Logger       *logrus.Logger

	// Window is the notification throttle window (DefaultWindow when zero).
	Window time.Duration
	// Liveness is the status tick interval.
	Liveness time.Duration
	// StopTimeout bounds how long draining waits for the driver.
	StopTimeout time.Duration
	// Now is the clock used by the throttle.
	Now func() time.Time
}

// Monitor is single-use: build one per session.
type Monitor struct {
	opts    Options
	logger  *logrus.Logger
	metrics *Metrics

	phase  atomic.Int32
	ran    atomic.Bool
	status atomic.Pointer[sink.Status]

	// owned by the Run goroutine
	throttle  *Throttle
	stats     Stats
	store     sink.Store
	notifier  sink.Notifier
	driver    source.Driver
	lastState source.ConnectionState
	guarded   bool
}

func New(opts Options) (*Monitor, error) {
	if opts.NewDriver == nil {
		return nil, errors.New("monitor needs a source driver")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.UI == nil {
		opts.UI = sink.Fanout(nil)
	}
	if opts.Selector == nil {
		table, err := heartrate.ParseThresholdTable(heartrate.DefaultLabels())
		if err != nil {
			return nil, err
		}
		opts.Selector = heartrate.NewSelector(table, nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Liveness <= 0 {
		opts.Liveness = defaultLiveness
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Monitor{
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		throttle:  NewThrottle(opts.Window),
		lastState: source.Idle,
	}
	m.publish()
	return m, nil
}

// Phase may be called from any goroutine.
func (m *Monitor) Phase() Phase {
	return Phase(m.phase.Load())
}

// Status returns the latest snapshot. Safe for concurrent use.
func (m *Monitor) Status() sink.Status {
	return *m.status.Load()
}

// Run executes the session until ctx is done or the source stops.
// It returns the source's error, joined with any error from draining.
// Context cancellation is a clean exit.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	m.setPhase(Starting)
	m.stats.StartedAt = m.opts.Now()
	if err := m.start(ctx); err != nil {
		m.logger.WithError(err).Error("Failed to start monitor")
		drainErr := m.drain(nil, nil)
		m.setPhase(Stopped)
		return errors.Join(err, drainErr)
	}

	driverCtx, cancelDriver := context.WithCancel(ctx)
	defer cancelDriver()

	samples := make(chan heartrate.Sample)
	task := groutine.Start(driverCtx, "source-"+m.opts.Source, func(ctx context.Context) error {
		return m.driver.Run(ctx, samples)
	})

	m.setPhase(Running)
	m.logger.WithField("source", m.opts.Source).Info("Monitor running")

	runErr := m.loop(ctx, samples, task)

	m.setPhase(Draining)
	drainErr := m.drain(task, cancelDriver)
	m.setPhase(Stopped)

	if drainErr != nil {
		m.logger.WithError(drainErr).Warn("Shutdown completed with errors")
	} else {
		m.logger.Info("Monitor stopped")
	}
	return errors.Join(runErr, drainErr)
}

func (m *Monitor) start(ctx context.Context) error {
	if m.opts.OpenStore != nil {
		store, err := m.opts.OpenStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		m.store = store
	}

	if m.opts.OpenNotifier != nil {
		notifier, err := m.opts.OpenNotifier()
		if err != nil {
			return fmt.Errorf("failed to open notifier: %w", err)
		}
		m.notifier = notifier
	}

	if m.opts.Guard != nil {
		if err := m.opts.Guard.Acquire(); err != nil {
			m.logger.WithError(err).Warn("Failed to keep the system awake, continuing without it")
		} else {
			m.guarded = true
		}
	}

	driver, err := m.opts.NewDriver()
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	m.driver = driver
	return nil
}

func (m *Monitor) loop(ctx context.Context, samples <-chan heartrate.Sample, task *groutine.Task) error {
	ticker := time.NewTicker(m.opts.Liveness)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Shutdown requested")
			return nil

		case <-task.Done():
			err := task.Err()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				m.logger.WithError(err).Error("Heart-rate source stopped")
				return err
			}
			m.logger.Info("Heart-rate source finished")
			return nil

		case s := <-samples:
			m.dispatch(ctx, s)

		case <-ticker.C:
			m.tick()
		}
	}
}

// dispatch processes one sample. Sink failures are logged and counted, never returned.
func (m *Monitor) dispatch(ctx context.Context, s heartrate.Sample) {
	m.stats.Add(s)

	log := m.logger.WithField("bpm", s.BPM)
	log.Debug("Heart rate sample")

	m.opts.UI.PushSample(s)

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	if m.store != nil {
		if err := m.store.Append(sinkCtx, s); err != nil {
			m.metrics.observeStoreFailure()
			log.WithError(err).Warn("Failed to store heart rate")
		}
	}

	m.notify(sinkCtx, s, log)
	m.metrics.observeSample(s.BPM)
	m.publish()
}

func (m *Monitor) notify(ctx context.Context, s heartrate.Sample, log *logrus.Entry) {
	if m.notifier == nil {
		return
	}

	undo, ok := m.throttle.Reserve(m.opts.Now())
	if !ok {
		m.metrics.observeNotification(ResultSuppressed)
		log.Trace("Notification rate limited")
		return
	}

	text := m.opts.Selector.Text(s.BPM)
	if err := m.notifier.Send(ctx, text); err != nil {
		undo()
		m.metrics.observeNotification(ResultFailed)
		log.WithError(err).Warn("Failed to send chatbox message")
		return
	}

	m.metrics.observeNotification(ResultSent)
	log.WithField("text", text).Debug("Chatbox message sent")
}

func (m *Monitor) tick() {
	state := m.driver.State()
	if state != m.lastState {
		m.logger.WithFields(logrus.Fields{
			"from": m.lastState.String(),
			"to":   state.String(),
		}).Info("Source state changed")
		m.lastState = state
	}

	m.logger.WithFields(logrus.Fields{
		"state":   state.String(),
		"samples": m.stats.Count,
		"avg_bpm": fmt.Sprintf("%.1f", m.stats.Average()),
	}).Debug("Monitor alive")

	m.publish()
	m.opts.UI.PushStatus(m.Status())
}

// drain runs every shutdown step even when earlier ones fail.
// task and cancelDriver are nil when the driver never started.
func (m *Monitor) drain(task *groutine.Task, cancelDriver context.CancelFunc) error {
	var errs []error

	if m.guarded {
		if err := m.opts.Guard.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release keep-awake: %w", err))
		}
	}

	if task != nil {
		if err := m.driver.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop source: %w", err))
		}
		select {
		case <-task.Done():
		case <-time.After(m.opts.StopTimeout):
			m.logger.WithField("timeout", m.opts.StopTimeout).Warn("Source did not stop in time, abandoning it")
			errs = append(errs, fmt.Errorf("source did not stop within %s", m.opts.StopTimeout))
		}
		cancelDriver()
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}

	m.publish()
	m.opts.UI.PushStatus(m.Status())
	if err := m.opts.UI.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ui: %w", err))
	}

	return errors.Join(errs...)
}

func (m *Monitor) setPhase(p Phase) {
	m.phase.Store(int32(p))
	m.logger.WithField("phase", p.String()).Debug("Monitor phase")
	m.publish()
}

// publish stores a fresh status snapshot. Called only from the Run goroutine
// (and New).
func (m *Monitor) publish() {
	state := source.Idle
	if m.driver != nil {
		state = m.driver.State()
	}
	m.metrics.observeConnection(state)

	st := sink.Status{
		Phase:         m.Phase().String(),
		Source:        m.opts.Source,
		Connection:    state.String(),
		Samples:       m.stats.Count,
		AverageBPM:    m.stats.Average(),
		LastBPM:       m.stats.Last.BPM,
		LastSampleAt:  m.stats.Last.ObservedAt,
		StartedAt:     m.stats.StartedAt,
		NotifierReady: m.notifier != nil,
		StoreReady:    m.store != nil,
	}
	m.status.Store(&st)
}
