package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/srg/heartio/internal/source"
)

// Notification outcomes, used as the "result" label.
const (
	ResultSent       = "sent"
	ResultSuppressed = "suppressed"
	ResultFailed     = "failed"
)

// Metrics are the monitor's Prometheus collectors.
type Metrics struct {
	samples       prometheus.Counter
	notifications *prometheus.CounterVec
	storeFailures prometheus.Counter
	lastBPM       prometheus.Gauge
	connection    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg gets a private registry so tests and repeated runs never collide.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heartio_samples_received_total",
			Help: "Validated heart-rate samples received from the active source.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heartio_notifications_total",
			Help: "Chatbox notifications by result (sent, suppressed, failed).",
		}, []string{"result"}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heartio_store_failures_total",
			Help: "Samples that could not be persisted.",
		}),
		lastBPM: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heartio_last_bpm",
			Help: "Most recent heart rate in beats per minute.",
		}),
		connection: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heartio_connection_state",
			Help: "Source connection state (0 idle, 1 scanning, 2 connecting, 3 connected, 4 degraded, 5 closed).",
		}),
		gatherer: reg,
	}

	reg.MustRegister(m.samples, m.notifications, m.storeFailures, m.lastBPM, m.connection)
	// pre-create the label values so they are exported as zero
	for _, r := range []string{ResultSent, ResultSuppressed, ResultFailed} {
		m.notifications.WithLabelValues(r)
	}
	return m
}

func (m *Metrics) observeSample(bpm int) {
	m.samples.Inc()
	m.lastBPM.Set(float64(bpm))
}

func (m *Metrics) observeNotification(result string) {
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) observeStoreFailure() {
	m.storeFailures.Inc()
}

func (m *Metrics) observeConnection(s source.ConnectionState) {
	m.connection.Set(float64(s))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
