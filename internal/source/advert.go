package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/device"
	"github.com/srg/heartio/internal/discovery"
	"github.com/srg/heartio/internal/groutine"
	"github.com/srg/heartio/internal/heartrate"
)

const (
	// DefaultProductName is matched as a substring of the advertised local name.
	DefaultProductName = "Xiaomi Smart Band"
	defaultDedupWindow = time.Second
	advertQueueSize    = 256
)

// AdvertDriver reads heart rate from the manufacturer data a band broadcasts
// while heart-rate sharing is on. No connection is made.
//
// The first address that yields a valid sample is pinned for the rest of the
// session; advertisements from any other address are ignored afterwards.
type AdvertDriver struct {
	central device.Central
	product string
	dedup   time.Duration
	logger  *logrus.Logger
	state   stateHolder
	stopper stopper
	now     func() time.Time

	mu     sync.RWMutex
	pinned string

	// lastSeen is only touched by the Run goroutine.
	lastSeen map[string]time.Time
}

func NewAdvertDriver(central device.Central, product string, dedup time.Duration, logger *logrus.Logger) *AdvertDriver {
	if logger == nil {
		logger = logrus.New()
	}
	if product == "" {
		product = DefaultProductName
	}
	if dedup <= 0 {
		dedup = defaultDedupWindow
	}
	return &AdvertDriver{
		central:  central,
		product:  product,
		dedup:    dedup,
		logger:   logger,
		state:    stateHolder{logger: logger, name: "advertisement"},
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

func (d *AdvertDriver) State() ConnectionState { return d.state.get() }

func (d *AdvertDriver) Stop() error {
	d.stopper.stop()
	return nil
}

// Pinned returns the monitored address, or "" before the first valid sample.
func (d *AdvertDriver) Pinned() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pinned
}

func (d *AdvertDriver) Run(ctx context.Context, out chan<- heartrate.Sample) error {
	ctx, cancel := d.stopper.bind(ctx)
	defer cancel()
	defer d.state.set(Closed)

	registry := discovery.NewRegistry(d.logger, advertQueueSize)
	scan := groutine.Start(ctx, "advert-scan", func(ctx context.Context) error {
		defer registry.Close()
		return d.central.Scan(ctx, true, registry.Observe)
	})

	d.state.set(Scanning)
	d.logger.WithField("product", d.product).Info("Waiting for band advertisements...")

	for {
		select {
		case <-ctx.Done():
			<-scan.Done()
			return nil

		case ev, ok := <-registry.Events():
			if !ok {
				<-scan.Done()
				if err := stopOrError(ctx, scan.Err()); err != nil {
					return fmt.Errorf("advertisement scan failed: %w", err)
				}
				return nil
			}
			sample, ok := d.handle(ev)
			if !ok {
				continue
			}
			if !emit(ctx, out, sample) {
				<-scan.Done()
				return nil
			}
		}
	}
}

// handle applies pinning, name filtering and dedup, then parses the payload.
func (d *AdvertDriver) handle(ev discovery.Event) (heartrate.Sample, bool) {
	p := ev.Peripheral
	key := strings.ToUpper(p.Address)
	pinned := d.Pinned()

	var entries map[uint16][]byte
	if pinned != "" {
		if key != pinned {
			return heartrate.Sample{}, false
		}
		entries = ev.ManufacturerData
	} else {
		if !strings.Contains(p.Name, d.product) {
			return heartrate.Sample{}, false
		}
		entries = p.Manufacturer
	}
	if len(entries) == 0 {
		return heartrate.Sample{}, false
	}

	now := d.now()
	if last, ok := d.lastSeen[key]; ok && now.Sub(last) < d.dedup {
		return heartrate.Sample{}, false
	}
	d.lastSeen[key] = now

	log := d.logger.WithFields(logrus.Fields{"device": p.DisplayName(), "address": p.Address})
	bpm, err := heartrate.ParseManufacturerData(entries, func(company uint16, payload []byte, reason error) {
		log.WithError(reason).WithFields(logrus.Fields{
			"company": fmt.Sprintf("0x%04x", company),
			"length":  len(payload),
		}).Debug("Skipped manufacturer data entry")
	})
	if err != nil {
		return heartrate.Sample{}, false
	}

	sample, err := heartrate.NewSample(bpm, now)
	if err != nil {
		return heartrate.Sample{}, false
	}

	if pinned == "" {
		d.mu.Lock()
		d.pinned = key
		d.mu.Unlock()
		d.state.set(Connected)
		log.Info("Monitoring band")
	}
	return sample, true
}
