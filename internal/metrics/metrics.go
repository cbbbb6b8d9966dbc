// Package metrics holds the service's Prometheus registry and collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// DistanceChunkFailures counts failed distance-matrix chunk calls.
	// Failed chunks degrade a run (edges stay unknown) instead of aborting
	// it, so this counter is the primary signal that schedules were built
	// on incomplete travel data.
	DistanceChunkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "distance_chunk_failures_total", Help: "Distance provider chunk calls that failed."},
		[]string{"provider"},
	)
	// DistanceMissingEdges counts schedule computations that fell back to
	// zero travel time because an edge was absent from the run cache.
	DistanceMissingEdges = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "distance_missing_edges_total", Help: "Schedule steps built with an unknown travel edge."},
	)

	// OptimizationRuns counts persisted run results by tier and status.
	OptimizationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimization_runs_total", Help: "Optimization run results by tier and status."},
		[]string{"tier", "status"},
	)
	// MinutesSaved tracks the computed savings distribution per tier.
	MinutesSaved = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "optimization_minutes_saved", Help: "Minutes saved per tier result.", Buckets: []float64{1, 5, 10, 15, 30, 60, 120}},
		[]string{"tier"},
	)
	// ApplyFailures counts staged schedule batches that failed to commit.
	ApplyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "optimization_apply_failures_total", Help: "Staged schedule batches that failed to commit."},
	)
	// Placements counts conflict-aware placement outcomes.
	Placements = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "placements_total", Help: "Conflict-aware placement outcomes."},
		[]string{"outcome"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(DistanceChunkFailures)
		Registry.MustRegister(DistanceMissingEdges)
		Registry.MustRegister(OptimizationRuns)
		Registry.MustRegister(MinutesSaved)
		Registry.MustRegister(ApplyFailures)
		Registry.MustRegister(Placements)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
