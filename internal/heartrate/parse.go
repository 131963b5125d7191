package heartrate

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// measurementFlag16Bit marks a 16-bit little-endian bpm value in the flags byte.
const measurementFlag16Bit = 0x01

// manufacturerBPMOffset is the bpm position inside a vendor advertisement payload.
const manufacturerBPMOffset = 3

// ParseMeasurement decodes a Heart Rate Measurement (0x2A37) notification.
//
// Byte 0 holds the flags; bit 0 selects a 16-bit little-endian value at
// bytes 1..2 instead of the 8-bit value at byte 1.
func ParseMeasurement(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty measurement", ErrMalformed)
	}

	var bpm int
	if data[0]&measurementFlag16Bit != 0 {
		if len(data) < 3 {
			return 0, fmt.Errorf("%w: 16-bit measurement needs 3 bytes, got %d", ErrMalformed, len(data))
		}
		bpm = int(binary.LittleEndian.Uint16(data[1:3]))
	} else {
		if len(data) < 2 {
			return 0, fmt.Errorf("%w: 8-bit measurement needs 2 bytes, got %d", ErrMalformed, len(data))
		}
		bpm = int(data[1])
	}

	if !IsValidBPM(bpm) {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, bpm)
	}
	return bpm, nil
}

// SkipFunc is told about manufacturer entries that were ignored and why.
type SkipFunc func(companyID uint16, payload []byte, reason error)

// ParseManufacturerData extracts bpm from vendor advertisement payloads keyed by
// company identifier. An entry qualifies when it has at least four bytes and
// byte 3 is a valid bpm. Entries are tried in ascending company id order and
// the first qualifying one wins. skip may be nil.
func ParseManufacturerData(entries map[uint16][]byte, skip SkipFunc) (int, error) {
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: no manufacturer data", ErrMalformed)
	}
	if skip == nil {
		skip = func(uint16, []byte, error) {}
	}

	ids := make([]uint16, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var lastErr error
	for _, id := range ids {
		payload := entries[id]
		if len(payload) <= manufacturerBPMOffset {
			lastErr = fmt.Errorf("%w: manufacturer data too short (%d bytes)", ErrMalformed, len(payload))
			skip(id, payload, lastErr)
			continue
		}
		bpm := int(payload[manufacturerBPMOffset])
		if !IsValidBPM(bpm) {
			lastErr = fmt.Errorf("%w: %d", ErrOutOfRange, bpm)
			skip(id, payload, lastErr)
			continue
		}
		return bpm, nil
	}
	return 0, lastErr
}
