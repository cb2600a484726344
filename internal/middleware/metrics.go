package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetclinic_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vetclinic_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	statusCategoryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vetclinic_http_status_category_total",
			Help: "Total number of responses by status category",
		},
		[]string{"category", "method", "path"},
	)
)

func init() {
	prometheus.MustRegister(requestCounter, requestDuration, statusCategoryCounter)
}

func statusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	}
	return ""
}

// statusOf returns the status the error handler is going to write, since
// fiber only sets it on the response after the chain unwinds.
func statusOf(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	if e, ok := err.(*fiber.Error); ok {
		return e.Code
	}
	return fiber.StatusInternalServerError
}

// Metrics records request count and latency per route template.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := statusOf(c, err)
		method := c.Method()
		// route template keeps label cardinality bounded
		path := c.Route().Path
		code := strconv.Itoa(status)

		requestCounter.WithLabelValues(method, path, code).Inc()
		requestDuration.WithLabelValues(method, path, code).Observe(time.Since(start).Seconds())
		if cat := statusCategory(status); cat != "" {
			statusCategoryCounter.WithLabelValues(cat, method, path).Inc()
		}
		return err
	}
}
