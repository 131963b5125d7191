package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/device"
)

// bleService adapts *ble.Service to device.Service
type bleService struct {
	svc   *ble.Service
	chars []device.Characteristic
}

func (s *bleService) UUID() string                             { return s.svc.UUID.String() }
func (s *bleService) Characteristics() []device.Characteristic { return s.chars }

// bleCharacteristic adapts *ble.Characteristic to device.Characteristic
type bleCharacteristic struct {
	char *ble.Characteristic
}

func (c *bleCharacteristic) UUID() string { return c.char.UUID.String() }

func (c *bleCharacteristic) CanNotify() bool {
	return c.char.Property&ble.CharNotify != 0 || c.char.Property&ble.CharIndicate != 0
}

// indicateOnly reports whether the characteristic only supports indications
func (c *bleCharacteristic) indicateOnly() bool {
	return c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
}

// BLEClient implements device.Client for a go-ble connection
type BLEClient struct {
	client ble.Client
	logger *logrus.Logger
}

func newClient(client ble.Client, logger *logrus.Logger) *BLEClient {
	return &BLEClient{client: client, logger: logger}
}

func (c *BLEClient) Address() string {
	return c.client.Addr().String()
}

// DiscoverProfile performs full service and characteristic discovery.
func (c *BLEClient) DiscoverProfile() ([]device.Service, error) {
	profile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}

	services := make([]device.Service, 0, len(profile.Services))
	for _, svc := range profile.Services {
		wrapped := &bleService{svc: svc}
		for _, char := range svc.Characteristics {
			wrapped.chars = append(wrapped.chars, &bleCharacteristic{char: char})
		}
		c.logger.WithFields(logrus.Fields{
			"service_uuid":    svc.UUID.String(),
			"characteristics": len(svc.Characteristics),
		}).Debug("Found service")
		services = append(services, wrapped)
	}
	return services, nil
}

func (c *BLEClient) Subscribe(char device.Characteristic, handler func(data []byte)) error {
	bc, ok := char.(*bleCharacteristic)
	if !ok {
		return fmt.Errorf("characteristic %s was not discovered on this connection: %w", char.UUID(), device.ErrUnsupported)
	}
	return device.NormalizeError(c.client.Subscribe(bc.char, bc.indicateOnly(), func(req []byte) {
		handler(req)
	}))
}

func (c *BLEClient) Unsubscribe(char device.Characteristic) error {
	bc, ok := char.(*bleCharacteristic)
	if !ok {
		return fmt.Errorf("characteristic %s was not discovered on this connection: %w", char.UUID(), device.ErrUnsupported)
	}
	return device.NormalizeError(c.client.Unsubscribe(bc.char, bc.indicateOnly()))
}

// Disconnected returns the go-ble disconnect channel.
// Backends without one get a nil channel, which never fires.
func (c *BLEClient) Disconnected() <-chan struct{} {
	if dc, ok := c.client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	c.logger.Debug("Client does not support Disconnected() channel")
	return nil
}

func (c *BLEClient) CancelConnection() error {
	return device.NormalizeError(c.client.CancelConnection())
}
