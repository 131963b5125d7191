package monitor

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultWindow is the minimum spacing between two chatbox notifications.
const DefaultWindow = 1500 * time.Millisecond

// Throttle admits at most one notification per window.
// Only a delivered notification consumes the window: a failed send is undone
// so the next sample may retry immediately.
type Throttle struct {
	limiter *rate.Limiter
}

func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(window), 1)}
}

// Reserve reports whether a notification may go out at now.
// When it may, the returned undo gives the slot back if delivery fails.
func (t *Throttle) Reserve(now time.Time) (undo func(), ok bool) {
	r := t.limiter.ReserveN(now, 1)
	if !r.OK() {
		return nil, false
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil, false
	}
	return func() { r.CancelAt(now) }, true
}
