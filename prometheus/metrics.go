// Package prometheus exposes bundling engine telemetry as Prometheus metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gridwise/bundling"
)

// Metrics implements bundling.Metrics on Prometheus collectors.
type Metrics struct {
	enqueuedTotal       prometheus.Counter
	duplicatesTotal     prometheus.Counter
	sealedTotal         prometheus.Counter
	renderedTotal       prometheus.Counter
	renderFailuresTotal prometheus.Counter
	peekedTotal         prometheus.Counter
	dequeuedTotal       prometheus.Counter

	passDuration prometheus.Histogram

	openBundles  prometheus.Gauge
	readyBundles prometheus.Gauge
}

var _ bundling.Metrics = (*Metrics)(nil)

// New registers the bundling collectors on the given registerer. Pass
// prometheus.DefaultRegisterer for the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		enqueuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bundling",
			Name:      "enqueued_total",
			Help:      "Total number of accepted outgoing messages.",
		}),
		duplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bundling",
			Name:      "duplicates_total",
			Help:      "Total number of idempotent enqueue no-ops.",
		}),
		sealedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bundling",
			Name:      "sealed_total",
			Help:      "Total number of sealed bundles.",
		}),
		renderedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bundling",
			Name:      "rendered_total",
			Help:      "Total number of rendered and linked documents.",
		}),
		renderFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bundling",
			Name:      "render_failures_total",
			Help:      "Total number of failed render attempts.",
		}),
		peekedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bundling",
			Name:      "peeked_total",
			Help:      "Total number of successful peeks.",
		}),
		dequeuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bundling",
			Name:      "dequeued_total",
			Help:      "Total number of acknowledged bundles.",
		}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bundling",
			Name:      "pass_duration_seconds",
			Help:      "Duration distribution of bundling passes.",
			Buckets: []float64{
				0.005, 0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10, 30,
			},
		}),
		openBundles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bundling",
			Name:      "open_bundles",
			Help:      "Current number of open bundles.",
		}),
		readyBundles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bundling",
			Name:      "ready_bundles",
			Help:      "Current number of ready (peekable) bundles.",
		}),
	}
}

// AddEnqueued implements bundling.Metrics.
func (m *Metrics) AddEnqueued(count int) {
	m.enqueuedTotal.Add(float64(count))
}

// AddDuplicates implements bundling.Metrics.
func (m *Metrics) AddDuplicates(count int) {
	m.duplicatesTotal.Add(float64(count))
}

// AddSealed implements bundling.Metrics.
func (m *Metrics) AddSealed(count int) {
	m.sealedTotal.Add(float64(count))
}

// AddRendered implements bundling.Metrics.
func (m *Metrics) AddRendered(count int) {
	m.renderedTotal.Add(float64(count))
}

// AddRenderFailures implements bundling.Metrics.
func (m *Metrics) AddRenderFailures(count int) {
	m.renderFailuresTotal.Add(float64(count))
}

// AddPeeked implements bundling.Metrics.
func (m *Metrics) AddPeeked(count int) {
	m.peekedTotal.Add(float64(count))
}

// AddDequeued implements bundling.Metrics.
func (m *Metrics) AddDequeued(count int) {
	m.dequeuedTotal.Add(float64(count))
}

// ObservePassDuration implements bundling.Metrics.
func (m *Metrics) ObservePassDuration(duration time.Duration) {
	m.passDuration.Observe(duration.Seconds())
}

// SetOpenBundles implements bundling.Metrics.
func (m *Metrics) SetOpenBundles(count int) {
	m.openBundles.Set(float64(count))
}

// SetReadyBundles implements bundling.Metrics.
func (m *Metrics) SetReadyBundles(count int) {
	m.readyBundles.Set(float64(count))
}
