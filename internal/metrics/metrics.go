// Package metrics holds the Prometheus collectors margin exports.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. It uses its
// own registry so several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	EventsReceived  *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	AnnotationsUp   prometheus.Counter
	ResolverRetries prometheus.Counter
	Publishes       *prometheus.CounterVec
	RelayPublishes  *prometheus.CounterVec
	Fetches         prometheus.Gauge
}

// NewCollector creates and registers every metric under namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Relay events received, before de-duplication",
		}, []string{"kind"}),
		EventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events that could not be adapted into annotations",
		}, []string{"reason"}),
		AnnotationsUp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_upserted_total",
			Help:      "Annotations written to the collection",
		}),
		ResolverRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_retries_total",
			Help:      "Reference lookups retried while waiting for a parent to arrive",
		}),
		Publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish attempts by outcome",
		}, []string{"type", "outcome"}),
		RelayPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publishes_total",
			Help:      "Per-relay publish results",
		}, []string{"relay", "outcome"}),
		Fetches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_progress",
			Help:      "Relay fetches that have not reached end of stored events",
		}),
	}
	c.registry.MustRegister(
		c.HTTPRequests, c.HTTPDuration,
		c.EventsReceived, c.EventsSkipped, c.AnnotationsUp, c.ResolverRetries,
		c.Publishes, c.RelayPublishes, c.Fetches,
	)
	return c
}

// Registry returns the registry metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveRelayPublish records one relay's publish answer.
func (c *Collector) ObserveRelayPublish(relay string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	c.RelayPublishes.WithLabelValues(relay, outcome).Inc()
}
