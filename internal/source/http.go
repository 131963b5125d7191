package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/groutine"
	"github.com/srg/heartio/internal/heartrate"
)

const (
	// DefaultHTTPPort is where companion apps push readings.
	DefaultHTTPPort     = 2333
	httpShutdownTimeout = 3 * time.Second
)

// APIResponse is the JSON body of every ingest endpoint reply.
type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HTTPDriver accepts readings pushed by a companion watch app:
//
//	GET /heart?bpm=72  -> 200 {"status":"success","message":"Heart rate 72 BPM received"}
//	GET /health        -> 200 {"status":"ok",...}
type HTTPDriver struct {
	listen   string
	handlers map[string]http.Handler
	logger   *logrus.Logger
	state    stateHolder
	stopper  stopper

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
}

func NewHTTPDriver(listen string, handlers map[string]http.Handler, logger *logrus.Logger) *HTTPDriver {
	if logger == nil {
		logger = logrus.New()
	}
	if listen == "" {
		listen = net.JoinHostPort("0.0.0.0", strconv.Itoa(DefaultHTTPPort))
	}
	return &HTTPDriver{
		listen:   listen,
		handlers: handlers,
		logger:   logger,
		state:    stateHolder{logger: logger, name: "http"},
		ready:    make(chan struct{}),
	}
}

func (d *HTTPDriver) State() ConnectionState { return d.state.get() }

func (d *HTTPDriver) Stop() error {
	d.stopper.stop()
	return nil
}

// Ready is closed once the listener is bound.
func (d *HTTPDriver) Ready() <-chan struct{} { return d.ready }

// Addr returns the bound listener address, or nil before Ready.
func (d *HTTPDriver) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

func (d *HTTPDriver) Run(ctx context.Context, out chan<- heartrate.Sample) error {
	ctx, cancel := d.stopper.bind(ctx)
	defer cancel()
	defer d.state.set(Closed)

	d.state.set(Connecting)
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", d.listen)
	if err != nil {
		return fmt.Errorf("failed to bind heart-rate server on %s: %w", d.listen, err)
	}

	srv := &http.Server{
		Handler:           d.Handler(ctx, out),
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.mu.Lock()
	d.addr = ln.Addr()
	d.mu.Unlock()
	close(d.ready)

	serve := groutine.Start(ctx, "http-ingest", func(context.Context) error {
		return srv.Serve(ln)
	})

	d.state.set(Connected)
	d.logger.WithField("addr", ln.Addr().String()).Info("Heart-rate server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.logger.WithError(err).Warn("Heart-rate server did not shut down cleanly")
			_ = srv.Close()
		}
		<-serve.Done()
		d.logger.Info("Heart-rate server stopped")
		return nil

	case <-serve.Done():
		if err := serve.Err(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("heart-rate server failed: %w", err)
		}
		return nil
	}
}

// Handler returns the ingest routes wrapped with CORS and request logging.
// Accepted samples are sent to out; the request waits until the sample is taken.
func (d *HTTPDriver) Handler(ctx context.Context, out chan<- heartrate.Sample) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /heart", func(w http.ResponseWriter, r *http.Request) {
		d.handleHeart(ctx, out, w, r)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, APIResponse{Status: "ok", Message: "Heart rate server is running"})
	})
	for pattern, h := range d.handlers {
		mux.Handle(pattern, h)
	}
	return withCORS(withRequestLogging(mux, d.logger))
}

func (d *HTTPDriver) handleHeart(ctx context.Context, out chan<- heartrate.Sample, w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("bpm")
	if raw == "" {
		d.logger.Warn("Missing bpm parameter")
		writeJSON(w, http.StatusBadRequest, APIResponse{Status: "error", Message: "missing bpm parameter"})
		return
	}

	bpm, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || !heartrate.IsValidBPM(int(bpm)) {
		d.logger.WithField("bpm", raw).Warn("Invalid bpm value received")
		writeJSON(w, http.StatusBadRequest, APIResponse{Status: "error", Message: "bpm must be between 1 and 299"})
		return
	}

	sample, err := heartrate.NewSample(int(bpm), time.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Status: "error", Message: err.Error()})
		return
	}

	select {
	case out <- sample:
	case <-ctx.Done():
		writeJSON(w, http.StatusServiceUnavailable, APIResponse{Status: "error", Message: "server is shutting down"})
		return
	case <-r.Context().Done():
		return
	}

	d.logger.WithField("bpm", sample.BPM).Debug("Received heart rate over HTTP")
	writeJSON(w, http.StatusOK, APIResponse{
		Status:  "success",
		Message: fmt.Sprintf("Heart rate %d BPM received", sample.BPM),
	})
}

func writeJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withCORS allows any origin, so browser based relays can push readings.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is needed by the websocket upgrader mounted next to the ingest routes.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func withRequestLogging(next http.Handler, logger *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Debug("HTTP request")
	})
}
