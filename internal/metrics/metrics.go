// Package metrics exposes cart engine counters over Prometheus.
//
// Every method is safe on a nil *Metrics so library callers that don't export
// metrics can pass nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront_cart"

// Sync outcomes.
const (
	SyncFull    = "full"
	SyncPartial = "partial"
	SyncFailed  = "failed"
	SyncSkipped = "skipped"
)

// Conflict sources.
const (
	ConflictClient = "client"
	ConflictServer = "server"
	ConflictSync   = "sync"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	syncs            *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	forcedLogouts    prometheus.Counter
	abandonedReports *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	profiles         prometheus.Gauge
}

// New creates the collectors and registers them, plus Go runtime collectors,
// on a fresh registry.
func New() *Metrics {
	// Private registry keeps tests and embedded use free of global state
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Guest-to-account cart syncs by outcome.",
		}, []string{"kind", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_conflicts_total",
			Help:      "Adds rejected by the single-warehouse rule, by where the rejection happened.",
		}, []string{"source"}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_logouts_total",
			Help:      "Sessions ended because the cart API rejected the token.",
		}),
		abandonedReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_reports_total",
			Help:      "Abandoned-cart reports sent, by kind and result.",
		}, []string{"kind", "result"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Cart mutation latency by operation and backing store.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "backend"}),
		profiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_profiles",
			Help:      "Profiles currently hosted.",
		}),
	}

	registry.MustRegister(
		m.syncs,
		m.conflicts,
		m.forcedLogouts,
		m.abandonedReports,
		m.mutationDuration,
		m.profiles,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Sync records the outcome of a cart or wishlist sync.
func (m *Metrics) Sync(kind, outcome string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(kind, outcome).Inc()
}

// Conflict records a warehouse conflict.
func (m *Metrics) Conflict(source string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(source).Inc()
}

// ForcedLogout records a logout triggered by a 401.
func (m *Metrics) ForcedLogout() {
	if m == nil {
		return
	}
	m.forcedLogouts.Inc()
}

// AbandonedReport records one tracker report.
func (m *Metrics) AbandonedReport(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.abandonedReports.WithLabelValues(kind, result).Inc()
}

// ObserveMutation records how long a cart mutation took.
func (m *Metrics) ObserveMutation(op, backend string, start time.Time) {
	if m == nil {
		return
	}
	m.mutationDuration.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
}

// ProfileOpened and ProfileClosed track hosted profiles.
func (m *Metrics) ProfileOpened() {
	if m == nil {
		return
	}
	m.profiles.Inc()
}

func (m *Metrics) ProfileClosed() {
	if m == nil {
		return
	}
	m.profiles.Dec()
}
