// Package sink holds the consumers of validated heart-rate samples: the OSC
// chatbox notifier, the SQLite store and the live UI feeds.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/srg/heartio/internal/heartrate"
)

var (
	// ErrSink is the root of every sink failure. Sink errors are never fatal to the dispatch loop.
	ErrSink = errors.New("sink error")
	// ErrMessageTooLong is returned for chatbox text above MaxMessageLength characters.
	ErrMessageTooLong = fmt.Errorf("%w: message too long", ErrSink)
	// ErrEncode is returned when a message cannot be encoded for the wire.
	ErrEncode = fmt.Errorf("%w: encode failed", ErrSink)
	// ErrSend is returned when an encoded message could not be delivered.
	ErrSend = fmt.Errorf("%w: send failed", ErrSink)
)

// Notifier delivers short text to the chatbox.
type Notifier interface {
	Send(ctx context.Context, text string) error
	Close() error
}

// Store persists samples. Records are append-only and never read back.
type Store interface {
	Append(ctx context.Context, s heartrate.Sample) error
	Close() error
}

// UI receives samples and status snapshots. Implementations must not block.
type UI interface {
	PushSample(s heartrate.Sample)
	PushStatus(st Status)
	Close() error
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Phase         string    `json:"phase"`
	Source        string    `json:"source"`
	Connection    string    `json:"connection"`
	Samples       int64     `json:"samples"`
	AverageBPM    float64   `json:"average_bpm"`
	LastBPM       int       `json:"last_bpm"`
	LastSampleAt  time.Time `json:"last_sample_at"`
	StartedAt     time.Time `json:"started_at"`
	NotifierReady bool      `json:"notifier_ready"`
	StoreReady    bool      `json:"store_ready"`
}

// Uptime returns how long the session has been running at now.
func (s Status) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// Fanout pushes to several UIs.
type Fanout []UI

func (f Fanout) PushSample(s heartrate.Sample) {
	for _, ui := range f {
		ui.PushSample(s)
	}
}

func (f Fanout) PushStatus(st Status) {
	for _, ui := range f {
		ui.PushStatus(st)
	}
}

func (f Fanout) Close() error {
	var errs []error
	for _, ui := range f {
		if err := ui.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
