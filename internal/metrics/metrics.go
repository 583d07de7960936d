// internal/metrics/metrics.go
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPServerHandlingSeconds is a histogram for HTTP request latencies
	HTTPServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of HTTP requests handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"route", "method", "code"},
	)

	// InferenceLatencySeconds is a histogram for inference-only latency
	InferenceLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Histogram of model inference latency (seconds) excluding decoding and preprocessing.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"backend"},
	)

	// PredictionsTotal counts served predictions by class and whether they were mocked
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of fire predictions served.",
		},
		[]string{"class", "mocked"},
	)

	// PredictionCacheTotal counts prediction cache lookups by result
	PredictionCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_cache_total",
			Help: "Prediction cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	// ModelLoaded is 1 when a real model serves predictions, 0 in mocked mode
	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_loaded",
			Help: "Whether a real model is loaded (1) or predictions are mocked (0).",
		},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordHTTPLatency records the latency of an HTTP request
func RecordHTTPLatency(route, method string, code int, seconds float64) {
	HTTPServerHandlingSeconds.WithLabelValues(route, method, strconv.Itoa(code)).Observe(seconds)
}

// RecordInferenceLatency records the latency of an inference call
func RecordInferenceLatency(backend string, seconds float64) {
	InferenceLatencySeconds.WithLabelValues(backend).Observe(seconds)
}

// RecordPrediction counts a served prediction
func RecordPrediction(class string, mocked bool) {
	PredictionsTotal.WithLabelValues(class, strconv.FormatBool(mocked)).Inc()
}

// RecordCacheResult counts a cache lookup outcome: hit, miss or error
func RecordCacheResult(result string) {
	PredictionCacheTotal.WithLabelValues(result).Inc()
}

// SetModelLoaded records whether a real model is loaded
func SetModelLoaded(loaded bool) {
	if loaded {
		ModelLoaded.Set(1)
		return
	}
	ModelLoaded.Set(0)
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
