package sink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/srg/heartio/internal/heartrate"
)

// Console prints samples and connection changes as colored lines.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	lastConn string
	now      func() time.Time

	bpm   *color.Color
	label *color.Color
	warn  *color.Color
	ok    *color.Color
}

// NewConsole writes to out. Colors are emitted only when enabled is true.
func NewConsole(out io.Writer, enabled bool) *Console {
	c := &Console{
		out:   out,
		now:   time.Now,
		bpm:   color.New(color.FgRed, color.Bold),
		label: color.New(color.FgHiBlack),
		warn:  color.New(color.FgYellow),
		ok:    color.New(color.FgGreen),
	}
	for _, col := range []*color.Color{c.bpm, c.label, c.warn, c.ok} {
		if enabled {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) PushSample(s heartrate.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, "%s %s %s\n",
		c.label.Sprint(s.ObservedAt.Format("15:04:05")),
		c.bpm.Sprintf("♥ %3d", s.BPM),
		c.label.Sprint("bpm"))
}

// PushStatus prints a line only when the connection state changes.
func (c *Console) PushStatus(st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.Connection == c.lastConn {
		return
	}
	c.lastConn = st.Connection

	state := c.warn.Sprint(st.Connection)
	if st.Connection == "connected" {
		state = c.ok.Sprint(st.Connection)
	}
	line := fmt.Sprintf("%s %s", c.label.Sprint(st.Source), state)
	if st.Samples > 0 {
		line += c.label.Sprintf("  avg %.1f over %d samples, up %s",
			st.AverageBPM, st.Samples, st.Uptime(c.now()).Truncate(time.Second))
	}
	_, _ = fmt.Fprintln(c.out, line)
}

func (c *Console) Close() error {
	return nil
}
