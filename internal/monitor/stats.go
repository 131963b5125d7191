package monitor

import (
	"time"

	"github.com/srg/heartio/internal/heartrate"
)

// Stats accumulates per-session sample statistics.
// It is owned by the dispatch loop and not safe for concurrent use.
type Stats struct {
	StartedAt time.Time
	Count     int64
	Sum       int64
	Last      heartrate.Sample
}

func (s *Stats) Add(sample heartrate.Sample) {
	s.Count++
	s.Sum += int64(sample.BPM)
	s.Last = sample
}

// Average returns the mean bpm, or 0 before the first sample.
func (s *Stats) Average() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Sum) / float64(s.Count)
}
