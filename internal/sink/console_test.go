package sink

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/srg/heartio/internal/heartrate"
	"github.com/stretchr/testify/assert"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start.Add(90 * time.Second) }

	c.PushSample(heartrate.Sample{BPM: 72, ObservedAt: start})
	assert.Equal(t, "10:00:00 ♥  72 bpm\n", buf.String())

	buf.Reset()
	c.PushStatus(Status{Source: "gatt", Connection: "connected", Samples: 4, AverageBPM: 71.25, StartedAt: start})
	assert.Equal(t, "gatt connected  avg 71.2 over 4 samples, up 1m30s\n", buf.String())

	buf.Reset()
	c.PushStatus(Status{Source: "gatt", Connection: "connected", Samples: 5})
	assert.Empty(t, buf.String(), "unchanged connection state is not repeated")

	c.PushStatus(Status{Source: "gatt", Connection: "degraded"})
	assert.Equal(t, "gatt degraded\n", buf.String())
}

type recordingUI struct {
	samples  []heartrate.Sample
	statuses []Status
	closeErr error
}

func (r *recordingUI) PushSample(s heartrate.Sample) { r.samples = append(r.samples, s) }
func (r *recordingUI) PushStatus(st Status)          { r.statuses = append(r.statuses, st) }
func (r *recordingUI) Close() error                  { return r.closeErr }

func TestFanout(t *testing.T) {
	a, b := &recordingUI{}, &recordingUI{closeErr: errors.New("boom")}
	f := Fanout{a, b}

	f.PushSample(heartrate.Sample{BPM: 60})
	f.PushStatus(Status{Phase: "running"})

	assert.Len(t, a.samples, 1)
	assert.Len(t, b.statuses, 1)
	assert.ErrorContains(t, f.Close(), "boom")
}
