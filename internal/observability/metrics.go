package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	submissionsTotal      *prometheus.CounterVec
	activityFeedRequests  *prometheus.CounterVec
	activityLogFailures   *prometheus.CounterVec
	activityPublishFailed prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the classroom API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classroom_requests_total",
			Help: "Total number of classroom API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "classroom_latency_seconds",
			Help:    "Latency distribution for classroom API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classroom_errors_total",
			Help: "Total number of error responses returned by classroom endpoints.",
		}, []string{"method", "route", "status"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classroom_submissions_total",
			Help: "Submission attempts by problem type and outcome.",
		}, []string{"problem_type", "outcome"})

		activityFeedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classroom_activity_feed_requests_total",
			Help: "Activity feed reads by cache result.",
		}, []string{"result"})

		activityLogFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activity_log_failures_total",
			Help: "Activity events that could not be persisted.",
		}, []string{"type"})

		activityPublishFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "activity_publish_failures_total",
			Help: "Activity events that could not be published to the message bus.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			submissionsTotal,
			activityFeedRequests,
			activityLogFailures,
			activityPublishFailed,
		)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// Submissions counts submission attempts. Outcome is one of graded, ungraded, rejected or failed.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// ActivityFeedRequests counts feed reads labelled hit, miss or error.
func ActivityFeedRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return activityFeedRequests
}

// ActivityLogFailures counts activity events lost on write.
func ActivityLogFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return activityLogFailures
}

// ActivityPublishFailures counts activity events that never reached NATS.
func ActivityPublishFailures() prometheus.Counter {
	RegisterMetrics()
	return activityPublishFailed
}

// MetricsHandler serves the Prometheus scrape endpoint, registering the classroom collectors first.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.Handler())
}
