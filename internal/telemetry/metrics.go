/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SegmentsPlayed counts segments entered by the playback scheduler.
	SegmentsPlayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cliploop_segments_played_total",
		Help: "Segments entered by the playback scheduler, by kind.",
	}, []string{"kind"})

	// PreloadReuse counts video segments served from an already primed slot.
	PreloadReuse = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cliploop_preload_reuse_total",
		Help: "Video segments that reused a preloaded standby slot.",
	})

	// Loops counts full traversals of the segment list.
	Loops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cliploop_loops_total",
		Help: "Completed loops over the segment list.",
	})

	// StallsDetected counts decoder stall watchdog trips.
	StallsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cliploop_stalls_detected_total",
		Help: "Decoder stall watchdog trips.",
	})

	// Exports counts export attempts by result.
	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cliploop_exports_total",
		Help: "Export attempts, by result.",
	}, []string{"result"})

	// MergeDuration observes asset merge latency.
	MergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cliploop_merge_duration_seconds",
		Help:    "Asset merge service latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// ActiveSessions gauges sessions currently playing.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cliploop_active_sessions",
		Help: "Sessions with playback running.",
	})

	// DatabaseQueryDuration observes gorm operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cliploop_db_query_duration_seconds",
		Help:    "Database operation latency, by operation and table.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation", "table"})

	// DatabaseErrors counts failed database operations.
	DatabaseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cliploop_db_errors_total",
		Help: "Failed database operations, by operation.",
	}, []string{"operation"})

	// DatabaseConnectionsActive gauges open connections in the pool.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cliploop_db_connections_active",
		Help: "Open database connections.",
	})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cliploop_api_request_duration_seconds",
		Help:    "HTTP request latency, by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cliploop_api_requests_total",
		Help: "HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cliploop_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
