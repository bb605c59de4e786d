package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deaddrop_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deaddrop_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	dropsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deaddrop_drops_created_total",
		Help: "Total number of drops created.",
	})

	checkinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deaddrop_checkins_total",
		Help: "Total number of successful check-ins.",
	})

	sweepActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deaddrop_sweep_actions_total",
		Help: "Sweep outcomes by action.",
	}, []string{"action"})

	dropsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deaddrop_drops",
		Help: "Number of drops by status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, dropsCreatedTotal,
		checkinsTotal, sweepActionsTotal, dropsByStatus)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
