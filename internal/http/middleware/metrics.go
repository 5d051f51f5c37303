// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Labels are
// method, route pattern and status. Requests that match no route are
// labelled "unmatched" so scanners cannot blow up series cardinality.
//
// Answer streams (SSE) and WebSocket sessions live for as long as the model
// keeps talking, so they are kept out of the request latency histogram and
// measured by their own gauge and duration histogram.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedRoute = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of non-streaming HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Upload responses are small; request bodies are bounded elsewhere.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
		},
		[]string{"method", "path"},
	)

	httpStreamsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_streams_open",
			Help: "Answer streams currently open, by transport.",
		},
		[]string{"transport"},
	)

	httpStreamDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_stream_duration_seconds",
			Help:    "Lifetime of answer streams in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"transport", "path"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by route.",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, httpStreamsOpen, httpStreamDur, rateLimited)
}

// streamTransport reports "sse" or "websocket" for long-lived requests and
// "" for everything else.
func streamTransport(c *gin.Context) string {
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return "websocket"
	}
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") ||
		strings.HasSuffix(c.Request.URL.Path, "/stream") {
		return "sse"
	}
	return ""
}

// Metrics instruments requests. Mount /metrics with promhttp alongside it.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		transport := streamTransport(c)
		if transport != "" {
			httpStreamsOpen.WithLabelValues(transport).Inc()
			defer httpStreamsOpen.WithLabelValues(transport).Dec()
		}

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()

		dur := time.Since(start).Seconds()
		if transport != "" {
			httpStreamDur.WithLabelValues(transport, path).Observe(dur)
			return
		}
		httpLat.WithLabelValues(method, path).Observe(dur)
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
