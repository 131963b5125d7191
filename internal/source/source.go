// Package source implements the heart-rate source drivers: a GATT
// notification driver, a passive advertisement driver and an HTTP ingest
// endpoint. Exactly one driver is active per run.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/config"
	"github.com/srg/heartio/internal/device"
	"github.com/srg/heartio/internal/discovery"
	"github.com/srg/heartio/internal/heartrate"
)

var (
	// ErrServiceDiscovery means the heart-rate profile could not be read after all retries.
	ErrServiceDiscovery = errors.New("service discovery failed")

	// ErrNoHeartRate means the peripheral does not expose a notifiable heart-rate measurement.
	ErrNoHeartRate = errors.New("heart-rate measurement characteristic not found")
)

// ConnectionState is the driver's view of its transport.
type ConnectionState int32

const (
	Idle ConnectionState = iota
	Scanning
	Connecting
	Connected
	Degraded
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Driver produces heart-rate samples from one source.
type Driver interface {
	// Run blocks, sending samples to out in the order they are received,
	// until ctx is done, Stop is called or the transport closes.
	Run(ctx context.Context, out chan<- heartrate.Sample) error
	// State may be called from any goroutine.
	State() ConnectionState
	// Stop asks a running driver to return. Safe to call more than once.
	Stop() error
}

// Deps carries the collaborators drivers are built from.
type Deps struct {
	// Central is required by the Bluetooth based sources.
	Central device.Central
	Logger  *logrus.Logger
	// Handlers are mounted on the HTTP ingest server next to /heart and /health.
	Handlers map[string]http.Handler
}

// New builds the driver for the selected source.
func New(src config.Source, deps Deps) (Driver, error) {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if src.Kind.UsesBluetooth() && deps.Central == nil {
		return nil, fmt.Errorf("%s source: %w", src.Kind, device.ErrAdapterUnavailable)
	}

	switch src.Kind {
	case config.NamedBluetooth:
		return NewGATTDriver(deps.Central, discovery.ByName(src.Name), deps.Logger), nil
	case config.AddressedBluetooth:
		return NewGATTDriver(deps.Central, discovery.ByAddress(src.Address), deps.Logger), nil
	case config.HeuristicBluetooth:
		return NewGATTDriver(deps.Central, discovery.Heuristic(), deps.Logger), nil
	case config.AdvertisementScan:
		return NewAdvertDriver(deps.Central, src.ProductName, src.DedupWindow, deps.Logger), nil
	case config.HTTPIngest:
		return NewHTTPDriver(src.Listen, deps.Handlers, deps.Logger), nil
	default:
		return nil, fmt.Errorf("unknown source kind %d", int(src.Kind))
	}
}

// stateHolder is written by the driver goroutine and read by anyone.
type stateHolder struct {
	v      atomic.Int32
	logger *logrus.Logger
	name   string
}

func (h *stateHolder) get() ConnectionState {
	return ConnectionState(h.v.Load())
}

func (h *stateHolder) set(s ConnectionState) {
	prev := ConnectionState(h.v.Swap(int32(s)))
	if prev != s && h.logger != nil {
		h.logger.WithFields(logrus.Fields{
			"driver": h.name,
			"from":   prev.String(),
			"to":     s.String(),
		}).Debug("Connection state changed")
	}
}

// emit forwards a sample unless ctx ends first.
func emit(ctx context.Context, out chan<- heartrate.Sample, s heartrate.Sample) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

// stopper lets Stop cancel whatever Run is currently doing.
type stopper struct {
	cancel atomic.Pointer[context.CancelFunc]
	done   atomic.Bool
}

// bind derives the run context. If Stop was already called, the context is cancelled.
func (s *stopper) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel.Store(&cancel)
	if s.done.Load() {
		cancel()
	}
	return ctx, cancel
}

func (s *stopper) stop() {
	s.done.Store(true)
	if c := s.cancel.Load(); c != nil {
		(*c)()
	}
}
