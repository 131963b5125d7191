package testutils

import (
	"errors"
	"sync"

	"github.com/srg/heartio/internal/device"
)

// Characteristic is an in-memory device.Characteristic.
type Characteristic struct {
	ID     string
	Notify bool
}

func NewCharacteristic(uuid string, notify bool) *Characteristic {
	return &Characteristic{ID: uuid, Notify: notify}
}

func (c *Characteristic) UUID() string    { return c.ID }
func (c *Characteristic) CanNotify() bool { return c.Notify }

// Service is an in-memory device.Service.
type Service struct {
	ID    string
	Chars []device.Characteristic
}

func (s *Service) UUID() string                             { return s.ID }
func (s *Service) Characteristics() []device.Characteristic { return s.Chars }

// PeripheralBuilder builds a fake connected peripheral.
type PeripheralBuilder struct {
	address       string
	services      []device.Service
	discoverFails int
	discoverErr   error
	subscribeErr  error
}

func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{address: address}
}

// WithService adds a service with the given characteristics.
func (b *PeripheralBuilder) WithService(uuid string, chars ...*Characteristic) *PeripheralBuilder {
	svc := &Service{ID: uuid}
	for _, c := range chars {
		svc.Chars = append(svc.Chars, c)
	}
	b.services = append(b.services, svc)
	return b
}

// WithDiscoveryFailures makes the first n profile discoveries fail with err.
func (b *PeripheralBuilder) WithDiscoveryFailures(n int, err error) *PeripheralBuilder {
	b.discoverFails = n
	b.discoverErr = err
	return b
}

// WithSubscribeError makes Subscribe fail.
func (b *PeripheralBuilder) WithSubscribeError(err error) *PeripheralBuilder {
	b.subscribeErr = err
	return b
}

func (b *PeripheralBuilder) Build() *Client {
	discoverErr := b.discoverErr
	if discoverErr == nil {
		discoverErr = errors.New("profile discovery failed")
	}
	return &Client{
		address:       b.address,
		services:      b.services,
		discoverFails: b.discoverFails,
		discoverErr:   discoverErr,
		subscribeErr:  b.subscribeErr,
		handlers:      make(map[string]func([]byte)),
		disconnected:  make(chan struct{}),
	}
}

// Client is an in-memory device.Client.
type Client struct {
	mu            sync.Mutex
	address       string
	services      []device.Service
	discoverFails int
	discoverErr   error
	subscribeErr  error
	discoverCalls int
	handlers      map[string]func([]byte)
	disconnected  chan struct{}
	disconnect    sync.Once
	cancelled     bool
}

func (c *Client) Address() string { return c.address }

func (c *Client) DiscoverProfile() ([]device.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discoverCalls++
	if c.discoverCalls <= c.discoverFails {
		return nil, c.discoverErr
	}
	return c.services, nil
}

func (c *Client) Subscribe(char device.Characteristic, handler func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.handlers[char.UUID()] = handler
	return nil
}

func (c *Client) Unsubscribe(char device.Characteristic) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, char.UUID())
	return nil
}

func (c *Client) Disconnected() <-chan struct{} { return c.disconnected }

func (c *Client) CancelConnection() error {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	c.Disconnect()
	return nil
}

// Notify delivers data to every subscribed handler.
func (c *Client) Notify(data []byte) {
	c.mu.Lock()
	handlers := make([]func([]byte), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

// Subscribed reports whether any notification handler is registered.
func (c *Client) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers) > 0
}

// Disconnect simulates the peripheral dropping the link.
func (c *Client) Disconnect() {
	c.disconnect.Do(func() { close(c.disconnected) })
}

func (c *Client) DiscoverCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discoverCalls
}

func (c *Client) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
