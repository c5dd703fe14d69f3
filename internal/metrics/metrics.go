// Package metrics collects Prometheus metrics for directives and account linking.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records gateway metrics into a Prometheus registry.
type Collector struct {
	directives        *prometheus.CounterVec
	directiveDuration *prometheus.HistogramVec
	linking           *prometheus.CounterVec
}

// NewCollector creates the collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locksure_directives_total",
			Help: "Directives handled, by directive kind and outcome.",
		}, []string{"directive", "outcome"}),
		directiveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "locksure_directive_duration_seconds",
			Help:    "Directive handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"directive"}),
		linking: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "locksure_linking_total",
			Help: "Account linking requests, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
	}

	reg.MustRegister(
		c.directives,
		c.directiveDuration,
		c.linking,
	)

	return c
}

// RecordDirective counts one directive and observes its latency. directive must come from a closed set.
func (c *Collector) RecordDirective(directive, outcome string, elapsed time.Duration) {
	c.directives.WithLabelValues(directive, outcome).Inc()
	c.directiveDuration.WithLabelValues(directive).Observe(elapsed.Seconds())
}

// RecordLinking counts one /auth or /token outcome.
func (c *Collector) RecordLinking(endpoint, outcome string) {
	c.linking.WithLabelValues(endpoint, outcome).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
