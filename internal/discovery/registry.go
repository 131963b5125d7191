package discovery

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/device"
	"github.com/srg/heartio/internal/ringchan"
)

// EventType marks if the peripheral was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

func (t EventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

// Peripheral is a snapshot of everything advertised by one address so far.
type Peripheral struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	Services    []string
	// Manufacturer holds the latest payload per company identifier.
	Manufacturer map[uint16][]byte
	LastSeen     time.Time
}

// HasHeartRateService reports whether any advertised service is 0x180D.
func (p Peripheral) HasHeartRateService() bool {
	for _, uuid := range p.Services {
		if device.IsHeartRateService(uuid) {
			return true
		}
	}
	return false
}

// DisplayName returns the local name, or a placeholder when none was advertised.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return "Unknown"
	}
	return p.Name
}

// Event is published for every advertisement accepted by the registry.
type Event struct {
	Type       EventType
	Peripheral Peripheral
	// ManufacturerData holds only the entries carried by this advertisement.
	ManufacturerData map[uint16][]byte
}

type entry struct {
	mu sync.Mutex
	p  Peripheral
}

// Registry tracks currently visible peripherals, keyed by address.
//
// Observe is called from the radio scan callback; Snapshot and Events may be
// used concurrently from other goroutines.
type Registry struct {
	peripherals *hashmap.Map[string, *entry]
	events      *ringchan.RingChannel[Event]
	logger      *logrus.Logger
	now         func() time.Time
}

// NewRegistry creates an empty registry whose event queue holds up to capacity events.
func NewRegistry(logger *logrus.Logger, capacity int) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		peripherals: hashmap.New[string, *entry](),
		events:      ringchan.New[Event](capacity),
		logger:      logger,
		now:         time.Now,
	}
}

// Observe merges an advertisement into the registry and publishes an event.
func (r *Registry) Observe(adv device.Advertisement) {
	addr := adv.Addr()
	if addr == "" {
		return
	}
	key := strings.ToUpper(addr)

	e, existing := r.peripherals.GetOrInsert(key, &entry{p: Peripheral{
		Address:      addr,
		Manufacturer: make(map[uint16][]byte),
	}})

	fresh := make(map[uint16][]byte)
	if id, payload, ok := device.SplitManufacturerData(adv.ManufacturerData()); ok {
		fresh[id] = append([]byte(nil), payload...)
	}

	e.mu.Lock()
	if name := adv.LocalName(); name != "" {
		e.p.Name = name
	}
	if services := adv.Services(); len(services) > 0 {
		e.p.Services = services
	}
	for id, payload := range fresh {
		e.p.Manufacturer[id] = payload
	}
	e.p.RSSI = adv.RSSI()
	e.p.Connectable = adv.Connectable()
	e.p.LastSeen = r.now()
	snapshot := e.p.clone()
	e.mu.Unlock()

	event := Event{Type: EventUpdated, Peripheral: snapshot, ManufacturerData: fresh}
	if !existing {
		event.Type = EventNew
		r.logger.WithFields(logrus.Fields{
			"device":  snapshot.DisplayName(),
			"address": snapshot.Address,
			"rssi":    snapshot.RSSI,
		}).Debug("Discovered new device")
	}

	if r.events.Send(event) {
		r.logger.Trace("Registry event queue full, dropped oldest event")
	}
}

// Snapshot returns all known peripherals ordered by address.
func (r *Registry) Snapshot() []Peripheral {
	out := make([]Peripheral, 0, r.peripherals.Len())
	r.peripherals.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		out = append(out, e.p.clone())
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of known peripherals.
func (r *Registry) Len() int {
	return r.peripherals.Len()
}

// Events returns the stream of registry events.
func (r *Registry) Events() <-chan Event {
	return r.events.C()
}

// Dropped returns how many events were overwritten before being consumed.
func (r *Registry) Dropped() int64 {
	return r.events.GetMetrics().Overwritten
}

// Close ends the event stream.
func (r *Registry) Close() {
	r.events.Close()
}

func (p Peripheral) clone() Peripheral {
	c := p
	c.Services = append([]string(nil), p.Services...)
	c.Manufacturer = make(map[uint16][]byte, len(p.Manufacturer))
	for id, payload := range p.Manufacturer {
		c.Manufacturer[id] = payload
	}
	return c
}
