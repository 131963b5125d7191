package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/heartio/internal/device"
)

// Central is an in-memory device.Central.
//
// Advertisements added with Visible are replayed at the start of every scan;
// advertisements passed to Emit are delivered to the running scan in order.
type Central struct {
	mu       sync.Mutex
	visible  []device.Advertisement
	adverts  chan device.Advertisement
	clients  map[string]*Client
	scanning chan struct{}
	scans    int
	dialed   []string

	ScanErr error
	DialErr error
}

func NewCentral() *Central {
	return &Central{
		adverts:  make(chan device.Advertisement, 256),
		clients:  make(map[string]*Client),
		scanning: make(chan struct{}, 16),
	}
}

// Visible registers advertisements that every scan reports immediately.
func (c *Central) Visible(ads ...device.Advertisement) *Central {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = append(c.visible, ads...)
	return c
}

// WithClient registers the peripheral returned when its address is dialed.
func (c *Central) WithClient(client *Client) *Central {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[strings.ToUpper(client.Address())] = client
	return c
}

// Emit queues an advertisement for the running (or next) scan.
func (c *Central) Emit(adv device.Advertisement) {
	c.adverts <- adv
}

// ScanStarted is signalled every time a scan begins.
func (c *Central) ScanStarted() <-chan struct{} { return c.scanning }

func (c *Central) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	c.mu.Lock()
	c.scans++
	visible := append([]device.Advertisement(nil), c.visible...)
	scanErr := c.ScanErr
	c.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}

	select {
	case c.scanning <- struct{}{}:
	default:
	}

	for _, adv := range visible {
		handler(adv)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case adv := <-c.adverts:
			handler(adv)
		}
	}
}

func (c *Central) Dial(_ context.Context, address string) (device.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialed = append(c.dialed, address)
	if c.DialErr != nil {
		return nil, c.DialErr
	}
	client, ok := c.clients[strings.ToUpper(address)]
	if !ok {
		return nil, fmt.Errorf("no peripheral at %s: %w", address, device.ErrNotConnected)
	}
	return client, nil
}

func (c *Central) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

func (c *Central) Dialed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dialed...)
}
