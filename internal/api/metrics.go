package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "precord_http_requests_total",
		Help: "HTTP requests served, by method, route, and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "precord_http_request_duration_seconds",
		Help:    "HTTP request latency, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	joinRedirects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "precord_join_redirects_total",
		Help: "Successful /join redirects, counting both new registrations entering the OAuth2 flow and already-registered tickets sent to the welcome channel.",
	})

	registrationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "precord_registrations_completed_total",
		Help: "Registrations that completed the guild join.",
	})
)

// Metrics returns a middleware that records request counts and latency. The
// route label is the matched pattern, not the raw path, to bound cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
