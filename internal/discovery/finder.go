package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/device"
	"github.com/srg/heartio/internal/groutine"
)

// ErrTimeout is returned when no peripheral matched the criteria in time.
var ErrTimeout = errors.New("discovery timed out")

// Mode selects how a peripheral is matched.
type Mode int

const (
	ModeName Mode = iota
	ModeAddress
	ModeHeuristic
)

func (m Mode) String() string {
	switch m {
	case ModeName:
		return "name"
	case ModeAddress:
		return "address"
	case ModeHeuristic:
		return "heuristic"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Criteria describes what to look for and how long to keep looking.
type Criteria struct {
	Mode         Mode
	Value        string
	Timeout      time.Duration
	PollInterval time.Duration
}

// ByName matches the advertised local name, ignoring case.
func ByName(name string) Criteria {
	return Criteria{Mode: ModeName, Value: name, Timeout: 10 * time.Second, PollInterval: 500 * time.Millisecond}
}

// ByAddress matches the device address, ignoring case.
func ByAddress(address string) Criteria {
	return Criteria{Mode: ModeAddress, Value: address, Timeout: 10 * time.Second, PollInterval: 500 * time.Millisecond}
}

// Heuristic matches any peripheral advertising the heart-rate service.
// It scans longer since it is the last resort when nothing is configured.
func Heuristic() Criteria {
	return Criteria{Mode: ModeHeuristic, Timeout: 30 * time.Second, PollInterval: time.Second}
}

// Matches reports whether p satisfies the criteria.
func (c Criteria) Matches(p Peripheral) bool {
	switch c.Mode {
	case ModeName:
		return p.Name != "" && strings.EqualFold(p.Name, c.Value)
	case ModeAddress:
		return strings.EqualFold(p.Address, c.Value)
	case ModeHeuristic:
		return p.HasHeartRateService()
	default:
		return false
	}
}

func (c Criteria) String() string {
	if c.Mode == ModeHeuristic {
		return "heart-rate service"
	}
	return fmt.Sprintf("%s %q", c.Mode, c.Value)
}

// Finder locates peripherals through a background scan.
type Finder struct {
	central device.Central
	logger  *logrus.Logger
}

func NewFinder(central device.Central, logger *logrus.Logger) *Finder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Finder{central: central, logger: logger}
}

// Find scans until a peripheral matches c, c.Timeout elapses or ctx is done.
// The scan is stopped before Find returns.
func (f *Finder) Find(ctx context.Context, c Criteria) (Peripheral, error) {
	log := f.logger.WithFields(logrus.Fields{"criteria": c.String(), "timeout": c.Timeout})
	log.Info("Looking for heart-rate device...")

	registry := NewRegistry(f.logger, 64)
	scanCtx, cancel := context.WithCancel(ctx)
	scan := f.startScan(scanCtx, registry)
	defer func() {
		cancel()
		f.awaitScan(scan)
	}()

	deadline := time.NewTimer(c.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Peripheral{}, ctx.Err()

		case <-deadline.C:
			log.WithField("seen", registry.Len()).Warn("No matching device found")
			return Peripheral{}, fmt.Errorf("%w: no device matching %s after %s", ErrTimeout, c, c.Timeout)

		case <-scan.Done():
			if ctx.Err() != nil {
				return Peripheral{}, ctx.Err()
			}
			if err := scan.Err(); err != nil && !isCancellation(err) {
				return Peripheral{}, fmt.Errorf("scan failed: %w", err)
			}
			return Peripheral{}, fmt.Errorf("scan stopped before a device matching %s was found", c)

		case <-ticker.C:
			p, ok := match(registry.Snapshot(), c)
			if !ok {
				log.WithField("seen", registry.Len()).Debug("No match yet")
				continue
			}

			f.logger.WithFields(logrus.Fields{
				"device":  p.DisplayName(),
				"address": p.Address,
				"rssi":    p.RSSI,
			}).Info("Found heart-rate device")

			if c.Mode == ModeHeuristic {
				f.logger.WithField("address", p.Address).
					Warn("Device was found heuristically; set device.name or device.address in the config for stable results")
			}
			return p, nil
		}
	}
}

// Survey scans for the given duration and returns every peripheral seen.
func (f *Finder) Survey(ctx context.Context, duration time.Duration) ([]Peripheral, error) {
	registry := NewRegistry(f.logger, 64)
	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	f.logger.WithField("duration", duration).Info("Starting BLE scan...")
	scan := f.startScan(scanCtx, registry)
	<-scan.Done()

	if err := scan.Err(); err != nil && !isCancellation(err) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices := registry.Snapshot()
	f.logger.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

func (f *Finder) startScan(ctx context.Context, registry *Registry) *groutine.Task {
	return groutine.Start(ctx, "discovery-scan", func(ctx context.Context) error {
		defer registry.Close()
		return f.central.Scan(ctx, true, registry.Observe)
	})
}

func (f *Finder) awaitScan(scan *groutine.Task) {
	select {
	case <-scan.Done():
	case <-time.After(2 * time.Second):
		f.logger.Warn("BLE scan did not stop within 2s")
	}
}

// match returns the strongest matching peripheral.
func match(peripherals []Peripheral, c Criteria) (Peripheral, bool) {
	var found []Peripheral
	for _, p := range peripherals {
		if c.Matches(p) {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return Peripheral{}, false
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].RSSI > found[j].RSSI })
	return found[0], true
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
