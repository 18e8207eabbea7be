package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

// Probe round trips are sub-millisecond on an idle thread; the upper
// buckets catch a thread stuck behind long tasks.
var probeBuckets = []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginehost_http_requests_total",
			Help: "Total number of admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enginehost_http_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds, excluding event streams.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	eventStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "enginehost_event_streams",
		Help: "Open lifecycle event streams.",
	})

	threadProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enginehost_thread_probe_seconds",
			Help:    "Round-trip time of no-op probes through engine threads.",
			Buckets: probeBuckets,
		},
		[]string{"thread"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, eventStreams, threadProbeDuration)
}

// streamRoutes stay open for the life of the engine, so their duration
// says nothing about request latency.
var streamRoutes = map[string]bool{
	"/v1/events": true,
}

// metricsMiddleware counts every request by chi route pattern and status.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if !streamRoutes[path] {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
