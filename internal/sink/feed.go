package sink

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/groutine"
	"github.com/srg/heartio/internal/heartrate"
	"github.com/srg/heartio/internal/ringchan"
)

const (
	feedQueueSize    = 64
	feedWriteTimeout = 100 * time.Millisecond
	feedPingInterval = 30 * time.Second
	feedReadTimeout  = 60 * time.Second
)

// FeedEvent is the JSON frame sent to live feed clients.
type FeedEvent struct {
	Type   string            `json:"type"`
	Sample *heartrate.Sample `json:"sample,omitempty"`
	Status *Status           `json:"status,omitempty"`
}

type feedClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer
}

func (c *feedClient) write(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout)); err != nil {
		return err
	}
	return fn()
}

// Feed is a WebSocket hub that streams samples and status to browsers.
//
// Push calls never block: events go through an overwrite-oldest queue that a
// single broadcaster goroutine drains.
type Feed struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader
	queue    *ringchan.RingChannel[FeedEvent]

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	last    *Status

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewFeed(logger *logrus.Logger) *Feed {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		queue:   ringchan.New[FeedEvent](feedQueueSize),
		clients: make(map[*feedClient]struct{}),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	groutine.Go(ctx, "feed-broadcast", f.broadcastLoop)
	return f
}

func (f *Feed) PushSample(s heartrate.Sample) {
	f.queue.Send(FeedEvent{Type: "sample", Sample: &s})
}

func (f *Feed) PushStatus(st Status) {
	f.mu.Lock()
	f.last = &st
	f.mu.Unlock()
	f.queue.Send(FeedEvent{Type: "status", Status: &st})
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeHTTP upgrades the request and keeps the connection alive until the client leaves.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &feedClient{conn: conn}
	f.mu.Lock()
	f.clients[client] = struct{}{}
	last := f.last
	f.mu.Unlock()
	f.logger.WithField("remote", r.RemoteAddr).Debug("Live feed client connected")

	defer func() {
		f.remove(client)
		f.logger.WithField("remote", r.RemoteAddr).Debug("Live feed client disconnected")
	}()

	if last != nil {
		if err := client.write(func() error { return conn.WriteJSON(FeedEvent{Type: "status", Status: last}) }); err != nil {
			return
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	})

	readErr := make(chan error, 1)
	groutine.Go(r.Context(), "feed-reader", func(context.Context) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	})

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.WithError(err).Debug("Live feed read error")
			}
			return
		case <-f.done:
			return
		case <-ticker.C:
			if err := client.write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) }); err != nil {
				return
			}
		}
	}
}

func (f *Feed) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.queue.C():
			if !ok {
				return
			}
			f.broadcast(ev)
		}
	}
}

func (f *Feed) broadcast(ev FeedEvent) {
	f.mu.Lock()
	clients := make([]*feedClient, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *feedClient) {
			defer wg.Done()
			if err := c.write(func() error { return c.conn.WriteJSON(ev) }); err != nil {
				f.remove(c)
			}
		}(c)
	}
	wg.Wait()
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	_, ok := f.clients[c]
	delete(f.clients, c)
	f.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// Close disconnects every client and stops the broadcaster.
func (f *Feed) Close() error {
	f.once.Do(func() {
		close(f.done)
		f.cancel()
		f.queue.Close()

		f.mu.Lock()
		clients := f.clients
		f.clients = make(map[*feedClient]struct{})
		f.mu.Unlock()
		for c := range clients {
			_ = c.write(func() error {
				return c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			})
			_ = c.conn.Close()
		}
	})
	return nil
}
