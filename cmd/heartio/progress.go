package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 250 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// countdown prints "<prefix> (Ns left)" on one terminal line until stopped.
// It is single-use and prints nothing when disabled.
type countdown struct {
	out      io.Writer
	prefix   string
	duration time.Duration
	enabled  bool

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func newCountdown(out io.Writer, prefix string, d time.Duration, enabled bool) *countdown {
	return &countdown{
		out:      out,
		prefix:   prefix,
		duration: d,
		enabled:  enabled,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *countdown) Start() {
	if !c.enabled {
		close(c.done)
		return
	}

	start := time.Now()
	c.print(c.duration)
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.print(c.duration - time.Since(start))
			}
		}
	}()
}

func (c *countdown) print(remaining time.Duration) {
	seconds := 0
	if remaining > 0 {
		// round to the nearest second: 3.7s -> 4s
		seconds = int(remaining.Seconds() + 0.5)
	}
	fmt.Fprintf(c.out, "\r%s (%ds left)   ", c.prefix, seconds)
}

// Stop waits for the printer goroutine and clears the line. Safe to call twice.
func (c *countdown) Stop() {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		if c.enabled {
			fmt.Fprint(c.out, clearLineSequence)
		}
	})
}
