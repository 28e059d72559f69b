// Package metrics exposes the prometheus collectors shared by the server and
// the sync client.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	bundleBuildsTotal   *prometheus.CounterVec
	bundleBuildDuration prometheus.Histogram

	syncResultsTotal *prometheus.CounterVec
}

// New registers all collectors on a fresh registry under the given prefix.
func New(prefix string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		bundleBuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_bundle_builds_total",
				Help: "Total number of bundle builds by outcome",
			},
			[]string{"outcome"},
		),
		bundleBuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    prefix + "_bundle_build_duration_seconds",
				Help:    "Duration of bundle builds in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		syncResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_sync_results_total",
				Help: "Total number of client sync attempts by result",
			},
			[]string{"result"},
		),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveBundleBuild records one bundle build.
func (m *Metrics) ObserveBundleBuild(duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.bundleBuildsTotal.WithLabelValues(outcome).Inc()
	m.bundleBuildDuration.Observe(duration.Seconds())
}

// RecordSyncResult records one client sync attempt outcome
// (updated, not_modified or failed).
func (m *Metrics) RecordSyncResult(result string) {
	m.syncResultsTotal.WithLabelValues(result).Inc()
}

// GinMiddleware records request count and duration per route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
