// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_session_count_total",
			Help: "Total number of generation sessions by transport and outcome",
		},
		[]string{"transport", "status"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_api_active_sessions",
			Help: "Number of generations currently in flight",
		},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_api_session_duration_seconds",
			Help:    "Total time taken for generation sessions in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100, 150, 200},
		},
		[]string{"status"},
	)

	TimeToFirstToken = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_api_time_to_first_token_seconds",
			Help:    "Time to first token in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100},
		},
	)

	StreamedDeltas = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_api_streamed_deltas_total",
			Help: "Total number of non-terminal deltas forwarded to clients",
		},
	)

	StreamedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_api_streamed_bytes_total",
			Help: "Total bytes of generated text forwarded to clients",
		},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_error_count_total",
			Help: "Total number of generation errors by kind",
		},
		[]string{"kind"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_response_codes_total",
			Help: "HTTP response codes by path",
		},
		[]string{"path", "code"},
	)
)
