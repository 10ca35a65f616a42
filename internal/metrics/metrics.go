// Package metrics exposes the replication worker's counters and timers as
// Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

const namespace = "blobreplicator"

// Sink implements replication.MetricsSink against a dedicated Prometheus
// registry, and serves it over /metrics.
type Sink struct {
	registry *prometheus.Registry

	phaseDuration     *prometheus.HistogramVec
	iterationDuration *prometheus.HistogramVec
	checkoutErrors    prometheus.Counter
	exchangeErrors    prometheus.Counter
	fixErrors         prometheus.Counter
	bytesFixed        prometheus.Counter
	blobsFixed        prometheus.Counter
}

// New builds a Sink with its own registry, separate from the default global
// one so replication metrics don't collide with anything else in-process.
func New() *Sink {
	registry := prometheus.NewRegistry()

	s := &Sink{
		registry: registry,
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one replication phase (checkout/exchange/reconcile/fetch/write).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "remote_colo"}),
		iterationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "iteration_duration_seconds",
			Help:      "Duration of one full peer reconciliation iteration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"remote_colo"}),
		checkoutErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "checkout_errors_total",
			Help:      "Total connection checkout failures.",
		}),
		exchangeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "exchange_errors_total",
			Help:      "Total metadata exchange failures.",
		}),
		fixErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "fix_errors_total",
			Help:      "Total fetch/write failures while repairing blobs.",
		}),
		bytesFixed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "bytes_fixed_total",
			Help:      "Total bytes written while repairing missing blobs.",
		}),
		blobsFixed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "blobs_fixed_total",
			Help:      "Total blobs written while repairing missing blobs.",
		}),
	}

	registry.MustRegister(
		s.phaseDuration,
		s.iterationDuration,
		s.checkoutErrors,
		s.exchangeErrors,
		s.fixErrors,
		s.bytesFixed,
		s.blobsFixed,
	)
	return s
}

// Handler returns the HTTP handler serving this sink's registry.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func coloLabel(remoteColo bool) string {
	if remoteColo {
		return "remote"
	}
	return "local"
}

// ObservePhaseDuration implements replication.MetricsSink.
func (s *Sink) ObservePhaseDuration(phase replication.Phase, remoteColo bool, d time.Duration) {
	s.phaseDuration.WithLabelValues(string(phase), coloLabel(remoteColo)).Observe(d.Seconds())
}

// ObserveIterationDuration implements replication.MetricsSink.
func (s *Sink) ObserveIterationDuration(remoteColo bool, d time.Duration) {
	s.iterationDuration.WithLabelValues(coloLabel(remoteColo)).Observe(d.Seconds())
}

// IncCheckoutError implements replication.MetricsSink.
func (s *Sink) IncCheckoutError() { s.checkoutErrors.Inc() }

// IncExchangeError implements replication.MetricsSink.
func (s *Sink) IncExchangeError() { s.exchangeErrors.Inc() }

// IncFixError implements replication.MetricsSink.
func (s *Sink) IncFixError() { s.fixErrors.Inc() }

// AddBytesFixed implements replication.MetricsSink.
func (s *Sink) AddBytesFixed(n int64) { s.bytesFixed.Add(float64(n)) }

// AddBlobsFixed implements replication.MetricsSink.
func (s *Sink) AddBlobsFixed(n int64) { s.blobsFixed.Add(float64(n)) }

var _ replication.MetricsSink = (*Sink)(nil)
