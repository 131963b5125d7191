// Package discovery finds BLE peripherals by name, address or advertised
// heart-rate service, and keeps a live registry of what the radio can see.
package discovery
