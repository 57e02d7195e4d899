// Package metrics exposes the coordinator's Prometheus collectors: HTTP
// request counters, outbound node RPC outcomes, reader/writer lock wait
// time, and repository archive sizes. Grounded on the teacher's
// infrastructure/metrics.Metrics constructor shape, trimmed to the
// signals spec.md's components actually produce.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the /metrics HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Collector holds every Prometheus metric the coordinator records.
type Collector struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	NodeRPCTotal    *prometheus.CounterVec
	NodeRPCDuration *prometheus.HistogramVec

	LockWaitDuration *prometheus.HistogramVec

	ArchiveBytes prometheus.Histogram
}

// New builds a Collector and registers it with the default Prometheus
// registerer.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Collector registered against a specific
// registerer, used by tests that need an isolated registry.
func NewWithRegistry(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secchiware_coordinator_http_requests_total",
				Help: "Total number of HTTP requests handled by the coordinator.",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secchiware_coordinator_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds, by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		NodeRPCTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secchiware_coordinator_node_rpc_total",
				Help: "Total number of outbound RPCs the coordinator made to nodes, by verb and outcome.",
			},
			[]string{"verb", "outcome"},
		),
		NodeRPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secchiware_coordinator_node_rpc_duration_seconds",
				Help:    "Outbound node RPC duration in seconds, by verb.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"verb"},
		),
		LockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secchiware_coordinator_lock_wait_seconds",
				Help:    "Time spent waiting to acquire the repository/environment reader-writer lock.",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"resource", "role"},
		),
		ArchiveBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secchiware_coordinator_repository_archive_bytes",
				Help:    "Size in bytes of gzipped package archives built or accepted by the coordinator.",
				Buckets: prometheus.ExponentialBuckets(1<<10, 4, 8), // 1KiB .. 16MiB
			},
		),
	}

	registerer.MustRegister(
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
		c.NodeRPCTotal,
		c.NodeRPCDuration,
		c.LockWaitDuration,
		c.ArchiveBytes,
	)
	return c
}

// ObserveHTTPRequest records one completed HTTP request.
func (c *Collector) ObserveHTTPRequest(route, method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(route, method, statusClass(status)).Inc()
	c.HTTPRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObserveNodeRPC records one outbound node RPC outcome.
func (c *Collector) ObserveNodeRPC(verb, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.NodeRPCTotal.WithLabelValues(verb, outcome).Inc()
	c.NodeRPCDuration.WithLabelValues(verb).Observe(d.Seconds())
}

// ObserveLockWait records how long a caller waited to acquire a
// reader/writer lock.
func (c *Collector) ObserveLockWait(resource, role string, d time.Duration) {
	if c == nil {
		return
	}
	c.LockWaitDuration.WithLabelValues(resource, role).Observe(d.Seconds())
}

// ObserveArchiveBytes records the size of a package archive.
func (c *Collector) ObserveArchiveBytes(n int) {
	if c == nil {
		return
	}
	c.ArchiveBytes.Observe(float64(n))
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}
