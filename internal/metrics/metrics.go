// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chefai"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// GenerationsTotal counts recipe batches by plan and outcome
	// (success, failed, config_error).
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recipes",
			Name:      "generations_total",
			Help:      "Total number of recipe generations",
		},
		[]string{"plan", "outcome"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recipes",
			Name:      "generation_duration_seconds",
			Help:      "Recipe generation duration in seconds",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"plan"},
	)

	// ImagesTotal counts dish images by outcome (ready, placeholder, discarded).
	ImagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "images",
			Name:      "total",
			Help:      "Total number of dish image fetches",
		},
		[]string{"outcome"},
	)

	AssetCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assets",
			Name:      "requests_total",
			Help:      "Shell asset requests by cache result (hit, miss, bypass)",
		},
		[]string{"result"},
	)
)
