package device

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// Well-known 16-bit identifiers of the standard heart-rate profile.
const (
	HeartRateServiceID     uint16 = 0x180D
	HeartRateMeasurementID uint16 = 0x2A37
)

// NormalizeUUID converts a UUID string to lowercase hex without dashes or 0x prefix.
// Returns an empty string when the input is not hex or has an unexpected length.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	switch len(s) {
	case 4, 8, 32:
	default:
		return ""
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ""
	}
	return s
}

// ShortID returns the 16-bit identifier carried by a UUID.
//
// For 128-bit UUIDs the identifier is taken from bits 96..111 regardless of
// the base UUID, so vendor bases that embed the SIG short code are matched
// the same way as the Bluetooth SIG base.
func ShortID(uuid string) (uint16, bool) {
	s := NormalizeUUID(uuid)
	if s == "" {
		return 0, false
	}
	var digits string
	switch len(s) {
	case 4:
		digits = s
	case 8, 32:
		digits = s[4:8]
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

// MatchesShortID reports whether uuid carries the given 16-bit identifier.
func MatchesShortID(uuid string, id uint16) bool {
	short, ok := ShortID(uuid)
	return ok && short == id
}

// IsHeartRateService reports whether uuid identifies the heart-rate service.
func IsHeartRateService(uuid string) bool {
	return MatchesShortID(uuid, HeartRateServiceID)
}

// IsHeartRateMeasurement reports whether uuid identifies the heart-rate measurement characteristic.
func IsHeartRateMeasurement(uuid string) bool {
	return MatchesShortID(uuid, HeartRateMeasurementID)
}

// SplitManufacturerData separates the little-endian company identifier from the
// manufacturer specific payload. Returns false when raw is shorter than the identifier.
func SplitManufacturerData(raw []byte) (uint16, []byte, bool) {
	if len(raw) < 2 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint16(raw[:2]), raw[2:], true
}
