package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	gradingRunsTotal      *prometheus.CounterVec
	gradingDuration       prometheus.Histogram
	similarityScores      prometheus.Histogram
	inputRejectedTotal    *prometheus.CounterVec
	extractionCacheEvents *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the grading pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		gradingRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_runs_total",
			Help: "Grading runs by terminal outcome.",
		}, []string{"outcome"})

		gradingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_run_duration_seconds",
			Help:    "Wall time of grading runs from submission to terminal state.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		})

		similarityScores = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_similarity_score",
			Help:    "Distribution of similarity scores between model and extracted answers.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		})

		inputRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_input_rejected_total",
			Help: "Grading inputs rejected during collection.",
		}, []string{"reason"})

		extractionCacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_extraction_cache_total",
			Help: "Extraction cache lookups by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			gradingRunsTotal,
			gradingDuration,
			similarityScores,
			inputRejectedTotal,
			extractionCacheEvents,
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

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// GradingRuns exposes the counter of finished grading runs.
func GradingRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingRunsTotal
}

// GradingDuration exposes the grading run duration histogram.
func GradingDuration() prometheus.Histogram {
	RegisterMetrics()
	return gradingDuration
}

// SimilarityScores exposes the similarity score histogram.
func SimilarityScores() prometheus.Histogram {
	RegisterMetrics()
	return similarityScores
}

// InputRejected exposes the counter of rejected grading inputs.
func InputRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return inputRejectedTotal
}

// ExtractionCache exposes the extraction cache hit/miss counter.
func ExtractionCache() *prometheus.CounterVec {
	RegisterMetrics()
	return extractionCacheEvents
}
