// Package heartrate holds the heart-rate domain: validated samples, the
// decoders for BLE measurement and advertisement payloads, and the threshold
// table that turns a bpm value into display text.
package heartrate

import (
	"errors"
	"fmt"
	"time"
)

// Valid bpm range, both bounds exclusive.
const (
	MinBPM = 0
	MaxBPM = 300
)

var (
	// ErrParse is the parent of every payload decoding failure.
	ErrParse = errors.New("heart rate parse error")

	// ErrMalformed means the payload is too short for its declared encoding.
	ErrMalformed = fmt.Errorf("%w: malformed payload", ErrParse)

	// ErrOutOfRange means the decoded bpm is outside (0,300).
	ErrOutOfRange = fmt.Errorf("%w: bpm out of range", ErrParse)
)

// Sample is one validated heart-rate reading.
type Sample struct {
	BPM        int       `json:"bpm"`
	ObservedAt time.Time `json:"observed_at"`
}

// IsValidBPM reports whether bpm lies strictly between MinBPM and MaxBPM.
func IsValidBPM(bpm int) bool {
	return bpm > MinBPM && bpm < MaxBPM
}

// NewSample builds a Sample, rejecting out-of-range values.
func NewSample(bpm int, at time.Time) (Sample, error) {
	if !IsValidBPM(bpm) {
		return Sample{}, fmt.Errorf("%w: %d", ErrOutOfRange, bpm)
	}
	return Sample{BPM: bpm, ObservedAt: at}, nil
}
