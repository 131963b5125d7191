package goble

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Central implements device.Central on top of a go-ble host device.
type Central struct {
	dev    ble.Device
	logger *logrus.Logger
}

// NewCentral opens the platform Bluetooth adapter.
// Failures are reported as device.ErrAdapterUnavailable.
func NewCentral(logger *logrus.Logger) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}

	dev, err := DeviceFactory()
	if err != nil {
		logger.WithError(err).Error("Failed to open Bluetooth adapter")
		return nil, fmt.Errorf("%w: %v", device.ErrAdapterUnavailable, err)
	}

	logger.Info("Bluetooth adapter initialized")
	return &Central{dev: dev, logger: logger}, nil
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (c *Central) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	}
	return device.NormalizeError(c.dev.Scan(ctx, allowDup, bleHandler))
}

// Dial connects to the peripheral with the given address.
func (c *Central) Dial(ctx context.Context, address string) (device.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}

	return newClient(client, c.logger), nil
}

// Close stops the host device.
func (c *Central) Close() error {
	return c.dev.Stop()
}
