package testutils

import (
	"encoding/binary"

	"github.com/srg/heartio/internal/device"
)

// Advertisement is an in-memory device.Advertisement.
type Advertisement struct {
	Name          string
	Address       string
	RSSIValue     int
	ServiceUUIDs  []string
	Manufacturer  []byte
	IsConnectable bool
}

func (a *Advertisement) LocalName() string        { return a.Name }
func (a *Advertisement) ManufacturerData() []byte { return a.Manufacturer }
func (a *Advertisement) Services() []string       { return a.ServiceUUIDs }
func (a *Advertisement) Connectable() bool        { return a.IsConnectable }
func (a *Advertisement) RSSI() int                { return a.RSSIValue }
func (a *Advertisement) Addr() string             { return a.Address }

// AdvertisementBuilder builds fake advertisements for testing.
// The builder starts with connectable=true.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{IsConnectable: true}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSIValue = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, uuids...)
	return b
}

// WithManufacturerData sets the manufacturer specific payload for companyID,
// encoded the way the radio reports it (little-endian company id first).
func (b *AdvertisementBuilder) WithManufacturerData(companyID uint16, payload []byte) *AdvertisementBuilder {
	raw := make([]byte, 2, 2+len(payload))
	binary.LittleEndian.PutUint16(raw, companyID)
	b.adv.Manufacturer = append(raw, payload...)
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	adv.ServiceUUIDs = append([]string(nil), b.adv.ServiceUUIDs...)
	return &adv
}
