// Package metrics exposes Prometheus counters for the web application.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every application metric.
type Collector struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	postWrites    *prometheus.CounterVec
	degradedReads *prometheus.CounterVec
	loginFailures prometheus.Counter
	rateLimited   *prometheus.CounterVec
	storeUp       prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "songshare_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "songshare_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		postWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "songshare_post_writes_total",
			Help: "Successful post writes by operation.",
		}, []string{"op"}),
		degradedReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "songshare_degraded_reads_total",
			Help: "Reads served without a reachable store.",
		}, []string{"op"}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "songshare_login_failures_total",
			Help: "Rejected login attempts.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "songshare_rate_limited_total",
			Help: "Requests rejected by the auth rate limiter.",
		}, []string{"route"}),
		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "songshare_store_up",
			Help: "1 when a database is configured, 0 in degraded mode.",
		}),
	}

	reg.MustRegister(
		c.requests,
		c.latency,
		c.postWrites,
		c.degradedReads,
		c.loginFailures,
		c.rateLimited,
		c.storeUp,
	)
	return c
}

func (c *Collector) ObserveRequest(method, route string, status int, duration time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.latency.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) PostWrite(op string) {
	c.postWrites.WithLabelValues(op).Inc()
}

func (c *Collector) DegradedRead(op string) {
	c.degradedReads.WithLabelValues(op).Inc()
}

func (c *Collector) LoginFailed() {
	c.loginFailures.Inc()
}

func (c *Collector) RateLimited(route string) {
	c.rateLimited.WithLabelValues(route).Inc()
}

// SetStoreUp records whether the store is configured.
func (c *Collector) SetStoreUp(up bool) {
	if up {
		c.storeUp.Set(1)
		return
	}
	c.storeUp.Set(0)
}

// Handler serves the metrics gathered by gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
