// Package metrics exposes the Prometheus instruments for the inference
// server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestHandlingSeconds is a histogram of full request latencies,
	// labeled by outcome.
	RequestHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_request_handling_seconds",
			Help:    "Histogram of response latency (seconds) per request, by outcome.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"model", "status"},
	)

	// InferenceLatencySeconds is a histogram of pool-execution latency,
	// excluding protocol overhead.
	InferenceLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Histogram of inference latency (seconds) excluding protocol overhead.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// ActiveConnections is a gauge of currently connected clients.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inference_active_connections",
			Help: "Number of currently connected inference clients.",
		},
	)

	// ModelLoadsTotal counts real model loads performed by the cache.
	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_model_loads_total",
			Help: "Number of model loads performed, by outcome.",
		},
		[]string{"status"},
	)

	// ModelLoadSeconds is a histogram of model load durations.
	ModelLoadSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_model_load_seconds",
			Help:    "Histogram of model load durations (seconds).",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
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

// RecordRequest records the latency and outcome of one request.
func RecordRequest(model, status string, seconds float64) {
	RequestHandlingSeconds.WithLabelValues(model, status).Observe(seconds)
}

// RecordInferenceLatency records the latency of one pool execution.
func RecordInferenceLatency(seconds float64) {
	InferenceLatencySeconds.Observe(seconds)
}

// RecordModelLoad records the outcome and duration of one model load.
func RecordModelLoad(status string, seconds float64) {
	ModelLoadsTotal.WithLabelValues(status).Inc()
	ModelLoadSeconds.Observe(seconds)
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
