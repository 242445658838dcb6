package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "scraper"

// Metrics holds the scraper's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  prometheus.Histogram
	pages    *prometheus.CounterVec
	items    prometheus.Counter
	covers   *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry so tests and
// repeated runs never collide on the global one.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Listing page fetches, by fetch mode.",
		}, []string{"mode"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Listing page fetch latency, including browser settle time.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		pages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pages_total",
			Help:      "Listing pages processed, by outcome.",
		}, []string{"outcome"}),
		items: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_extracted_total",
			Help:      "Book records handed to the pipeline.",
		}),
		covers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "images_total",
			Help:      "Cover downloads, by result.",
		}, []string{"result"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "errors_total",
			Help:      "Page failures, by kind.",
		}, []string{"error_type"}),
	}
}

func (m *Metrics) IncRequest(mode string) {
	if m != nil {
		m.requests.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m != nil {
		m.latency.Observe(d.Seconds())
	}
}

// IncPage counts a page under one of the Page* outcomes.
func (m *Metrics) IncPage(outcome string) {
	if m != nil {
		m.pages.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddItems(n int) {
	if m != nil && n > 0 {
		m.items.Add(float64(n))
	}
}

// IncImage counts a cover download as "ok" or "error".
func (m *Metrics) IncImage(result string) {
	if m != nil {
		m.covers.WithLabelValues(result).Inc()
	}
}

// IncError counts a failure under one of the Kind* labels.
func (m *Metrics) IncError(kind string) {
	if m != nil {
		m.failures.WithLabelValues(kind).Inc()
	}
}
