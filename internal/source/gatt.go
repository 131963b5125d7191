package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/device"
	"github.com/srg/heartio/internal/discovery"
	"github.com/srg/heartio/internal/heartrate"
	"github.com/srg/heartio/internal/ringchan"
)

const (
	defaultSettleDelay       = time.Second
	defaultDiscoveryAttempts = 3
	defaultDiscoveryBackoff  = 2 * time.Second
	notificationQueueSize    = 32
)

// GATTDriver connects to a heart-rate peripheral and yields its measurement notifications.
// A lost link ends the session; there is no reconnect.
type GATTDriver struct {
	central  device.Central
	criteria discovery.Criteria
	logger   *logrus.Logger
	state    stateHolder
	stopper  stopper

	settleDelay time.Duration
	attempts    int
	backoff     time.Duration
}

func NewGATTDriver(central device.Central, criteria discovery.Criteria, logger *logrus.Logger) *GATTDriver {
	if logger == nil {
		logger = logrus.New()
	}
	return &GATTDriver{
		central:     central,
		criteria:    criteria,
		logger:      logger,
		state:       stateHolder{logger: logger, name: "gatt"},
		settleDelay: defaultSettleDelay,
		attempts:    defaultDiscoveryAttempts,
		backoff:     defaultDiscoveryBackoff,
	}
}

func (d *GATTDriver) State() ConnectionState { return d.state.get() }

func (d *GATTDriver) Stop() error {
	d.stopper.stop()
	return nil
}

func (d *GATTDriver) Run(ctx context.Context, out chan<- heartrate.Sample) error {
	ctx, cancel := d.stopper.bind(ctx)
	defer cancel()

	d.state.set(Scanning)
	target, err := discovery.NewFinder(d.central, d.logger).Find(ctx, d.criteria)
	if err != nil {
		d.state.set(Closed)
		return stopOrError(ctx, err)
	}

	d.state.set(Connecting)
	log := d.logger.WithFields(logrus.Fields{"device": target.DisplayName(), "address": target.Address})
	client, err := d.central.Dial(ctx, target.Address)
	if err != nil {
		d.state.set(Closed)
		return stopOrError(ctx, fmt.Errorf("failed to connect to heart-rate device: %w", err))
	}
	log.Info("Connected to heart-rate device")

	defer func() {
		if err := client.CancelConnection(); err != nil {
			log.WithError(err).Debug("Disconnect reported an error")
		}
		d.state.set(Closed)
		log.Info("Disconnected from heart-rate device")
	}()

	// Some peripherals reject discovery right after the link comes up.
	if !sleepCtx(ctx, d.settleDelay) {
		return nil
	}

	char, err := d.locateMeasurement(ctx, client, log)
	if err != nil {
		return stopOrError(ctx, err)
	}

	notifications := ringchan.New[[]byte](notificationQueueSize)
	if err := client.Subscribe(char, func(data []byte) {
		notifications.Send(append([]byte(nil), data...))
	}); err != nil {
		return fmt.Errorf("failed to subscribe to heart-rate notifications: %w", err)
	}
	defer func() {
		if err := client.Unsubscribe(char); err != nil {
			log.WithError(err).Debug("Unsubscribe reported an error")
		}
		notifications.Close()
	}()

	d.state.set(Connected)
	log.Info("Subscribed to heart-rate notifications")

	disconnected := client.Disconnected()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-disconnected:
			d.state.set(Degraded)
			log.Warn("Heart-rate device disconnected")
			return fmt.Errorf("%w: %s", device.ErrConnectionLost, target.Address)

		case data := <-notifications.C():
			bpm, err := heartrate.ParseMeasurement(data)
			if err != nil {
				log.WithError(err).WithField("payload", fmt.Sprintf("% x", data)).Debug("Dropped heart-rate notification")
				continue
			}
			sample, err := heartrate.NewSample(bpm, time.Now())
			if err != nil {
				continue
			}
			if !emit(ctx, out, sample) {
				return nil
			}
		}
	}
}

// locateMeasurement reads the profile, retrying transient discovery failures.
func (d *GATTDriver) locateMeasurement(ctx context.Context, client device.Client, log *logrus.Entry) (device.Characteristic, error) {
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		services, err := client.DiscoverProfile()
		if err == nil {
			char, ok := findMeasurement(services)
			if !ok {
				return nil, ErrNoHeartRate
			}
			return char, nil
		}

		lastErr = err
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": d.attempts,
		}).Warn("Service discovery failed")

		if attempt < d.attempts && !sleepCtx(ctx, d.backoff) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrServiceDiscovery, d.attempts, lastErr)
}

// findMeasurement returns the notifiable 0x2A37 characteristic of the 0x180D service.
func findMeasurement(services []device.Service) (device.Characteristic, bool) {
	for _, svc := range services {
		if !device.IsHeartRateService(svc.UUID()) {
			continue
		}
		for _, char := range svc.Characteristics() {
			if device.IsHeartRateMeasurement(char.UUID()) && char.CanNotify() {
				return char, true
			}
		}
	}
	return nil, false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// stopOrError hides errors caused by the driver being stopped.
func stopOrError(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}
