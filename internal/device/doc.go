// Package device defines the Bluetooth Low Energy abstractions used by heart-rate
// acquisition: a Central that scans and dials, a Client for a live GATT link, and
// the Service/Characteristic views needed to find the heart-rate measurement.
//
// The concrete radio stack lives in the go-ble subpackage. Everything above it
// (discovery, source drivers) depends only on these interfaces so tests can run
// against in-memory fakes.
//
// UUIDs are handled as strings and matched on their 16-bit short identifier:
//   - "180d", "0x180D" and "0000180d-0000-1000-8000-00805f9b34fb" all match 0x180D
//   - vendor bases are ignored, only bits 96..111 of a 128-bit UUID are compared
package device
