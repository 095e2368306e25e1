package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Password authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	hashQueueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth_hash_queue_wait_seconds",
		Help:    "Time spent waiting for a bcrypt worker slot.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers the service metrics in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
		authAttemptsTotal, hashQueueWait)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthAttempt counts one authentication attempt. Outcome is one of
// success, rejected, unavailable.
func ObserveAuthAttempt(outcome string) {
	authAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHashWait records how long an attempt waited for a hashing slot.
func ObserveHashWait(d time.Duration) {
	hashQueueWait.Observe(d.Seconds())
}

// Instrument measures RPS, latency and in-flight count for a handler tree.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses per-entity path segments so metric cardinality stays
// bounded no matter how many logins or facilities exist.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(segs) == 4 && segs[0] == "api" && segs[1] == "admin" && segs[2] == "users":
		return "/api/admin/users/:login"
	case len(segs) == 5 && segs[0] == "api" && segs[1] == "admin" && segs[2] == "users" && segs[4] == "roles":
		return "/api/admin/users/:login/roles"
	case len(segs) == 6 && segs[0] == "api" && segs[1] == "admin" && segs[2] == "users" && segs[4] == "roles":
		return "/api/admin/users/:login/roles/:role"
	case len(segs) == 4 && segs[0] == "api" && segs[1] == "admin" && segs[2] == "facilities":
		return "/api/admin/facilities/:id"
	case len(segs) == 5 && segs[0] == "api" && segs[1] == "admin" && segs[2] == "facilities" && segs[4] == "roles":
		return "/api/admin/facilities/:id/roles"
	}
	return path
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
