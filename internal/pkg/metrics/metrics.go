package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts handled requests by route template, method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_http_requests_total",
		Help: "HTTP requests handled, by route, method and status code.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration observes request latency in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskmanager_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// AuthFailuresTotal counts rejected bearer tokens by internal reason.
	// The reason never reaches the client response.
	AuthFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_auth_failures_total",
		Help: "Authentication failures by internal reason.",
	}, []string{"reason"})

	// LoginAttemptsTotal counts login attempts by result (success / invalid).
	LoginAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_login_attempts_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	// UsersRegisteredTotal counts successful registrations.
	UsersRegisteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmanager_users_registered_total",
		Help: "Successful user registrations.",
	})

	// TaskOperationsTotal counts task mutations by operation (create / update / delete).
	TaskOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_task_operations_total",
		Help: "Task mutations by operation.",
	}, []string{"operation"})

	// RateLimitedTotal counts requests rejected by the rate limiter, by scope.
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmanager_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	}, []string{"scope"})

	registerOnce sync.Once
)

// InitMetrics registers all collectors with the default registry.
// Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AuthFailuresTotal,
			LoginAttemptsTotal,
			UsersRegisteredTotal,
			TaskOperationsTotal,
			RateLimitedTotal,
		)
	})
}
