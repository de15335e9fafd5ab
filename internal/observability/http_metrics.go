package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPCollector exposes request metrics for the planning API.
type HTTPCollector struct {
	gatherer prometheus.Gatherer

	Requests  *prometheus.CounterVec
	Durations *prometheus.HistogramVec
	InFlight  prometheus.Gauge
}

// NewHTTPCollector registers HTTP metrics against the provided registerer.
func NewHTTPCollector(reg prometheus.Registerer) (*HTTPCollector, error) {
	reg, gatherer := resolveRegistry(reg)

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_http_requests_total",
		Help: "Total number of handled API requests, labeled by method, route, and status code.",
	}, []string{"method", "route", "code"}), "planner_http_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planner_http_request_duration_seconds",
		Help:    "API request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"}), "planner_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}
	inFlight, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "planner_http_requests_in_flight",
		Help: "API requests currently being served.",
	}), "planner_http_requests_in_flight")
	if err != nil {
		return nil, err
	}

	return &HTTPCollector{
		gatherer:  gatherer,
		Requests:  requests,
		Durations: durations,
		InFlight:  inFlight,
	}, nil
}

// Middleware records request counts and durations. Requests that match no
// route are labeled "unmatched" to keep label cardinality bounded.
func (c *HTTPCollector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil {
			ctx.Next()
			return
		}
		start := time.Now()
		c.InFlight.Inc()
		defer c.InFlight.Dec()

		ctx.Next()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method
		c.Requests.WithLabelValues(method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		c.Durations.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *HTTPCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}
