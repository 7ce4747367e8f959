package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	stackauth "github.com/yonasBSD/stack-sub000"
	"golang.org/x/time/rate"
)

// Metrics holds the API's Prometheus collectors.
type Metrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	signIns         *prometheus.CounterVec
	sessionsCreated prometheus.Counter
}

// NewMetrics registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackauth_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stackauth_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackauth_sign_ins_total",
			Help: "Resolved authentications by method and outcome.",
		}, []string{"method", "outcome"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stackauth_sessions_created_total",
			Help: "Sessions created since process start.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.signIns, m.sessionsCreated)
	return m
}

// RecordSignIn counts a resolved authentication.
func (m *Metrics) RecordSignIn(method stackauth.AuthMethod, outcome stackauth.Outcome) {
	if m == nil {
		return
	}
	m.signIns.WithLabelValues(string(method), string(outcome)).Inc()
	m.sessionsCreated.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records request counts and latency per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		s.Metrics.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.Metrics.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RateLimiter is a per-(route, client) token bucket set. Entries are
// created lazily; there is no eviction, which is acceptable for the
// small set of limited routes.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// NewRateLimiter allows ratePerSecond sustained with the given burst.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: map[string]*rate.Limiter{},
		rate:    rate.Limit(ratePerSecond),
		burst:   burst,
	}
}

// Allow reports whether the client may proceed on the route.
func (l *RateLimiter) Allow(route, client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := route + "|" + client
	b, ok := l.buckets[k]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets[k] = b
	}
	return b.Allow()
}
