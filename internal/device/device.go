package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ConnectionLost   ConnectionState = "connection_lost"
	AdapterOff       ConnectionState = "adapter_unavailable"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}

	// ErrConnectionLost indicates the peripheral went away while a session was running.
	// Sessions do not reconnect on their own.
	ErrConnectionLost = &ConnectionError{State: ConnectionLost}

	// ErrAdapterUnavailable means there is no usable Bluetooth radio (missing, off, or not permitted).
	ErrAdapterUnavailable = &ConnectionError{State: AdapterOff}
)

// ErrUnsupported is returned for operations a peripheral does not offer.
var ErrUnsupported = errors.New("unsupported")

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is a single BLE advertising report as seen by the central.
type Advertisement interface {
	LocalName() string
	// ManufacturerData returns the raw manufacturer specific AD payload,
	// company identifier included (first two bytes, little-endian).
	ManufacturerData() []byte
	Services() []string
	Connectable() bool
	RSSI() int
	Addr() string
}

// Central is the host side of the radio: it scans and dials peripherals.
type Central interface {
	// Scan blocks until ctx is done, calling handler for every advertisement.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	// Dial connects to the peripheral with the given address.
	Dial(ctx context.Context, address string) (Client, error)
}

// Client is a live GATT connection to one peripheral.
type Client interface {
	Address() string
	// DiscoverProfile walks all services and characteristics of the peripheral.
	DiscoverProfile() ([]Service, error)
	Subscribe(char Characteristic, handler func(data []byte)) error
	Unsubscribe(char Characteristic) error
	// Disconnected is closed when the link drops.
	Disconnected() <-chan struct{}
	CancelConnection() error
}

// Service represents a discovered GATT service
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Characteristic represents a discovered GATT characteristic
type Characteristic interface {
	UUID() string
	CanNotify() bool
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps known radio stack error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "central manager has invalid state"):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "can't init hci"), containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	default:
		return err
	}
}
