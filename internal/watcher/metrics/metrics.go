// Package metrics exposes Prometheus collectors for the watcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsDispatched counts events delivered to the consumer handler.
	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedwatch_events_dispatched_total",
			Help: "Number of change events delivered to the handler.",
		},
		[]string{"operation"},
	)

	// HandlerErrors counts consumer handler failures.
	HandlerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedwatch_handler_errors_total",
			Help: "Number of handler invocations that returned an error or panicked.",
		},
	)

	// DispatchLatency observes handler invocation latency.
	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedwatch_dispatch_latency_seconds",
			Help:    "Latency of handler invocations.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DecodeErrors counts raw events dropped because they failed to decode.
	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedwatch_decode_errors_total",
			Help: "Number of change stream documents dropped due to decode failures.",
		},
	)

	// ConnectFailures counts feed connection failures by classified kind.
	ConnectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedwatch_connect_failures_total",
			Help: "Number of feed connection failures by kind.",
		},
		[]string{"kind"},
	)

	// Reconnects counts successful reconnections by how they resumed.
	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedwatch_reconnects_total",
			Help: "Number of successful reconnections, labelled resumed or restarted.",
		},
		[]string{"mode"},
	)

	// CheckpointsSaved counts persisted resume tokens.
	CheckpointsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedwatch_checkpoints_saved_total",
			Help: "Number of resume tokens persisted to the checkpoint store.",
		},
	)

	// CheckpointErrors counts failed checkpoint writes.
	CheckpointErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedwatch_checkpoint_errors_total",
			Help: "Number of checkpoint writes that failed and were skipped.",
		},
	)

	// GapsDetected counts token-expired resubscriptions, each of which may
	// have skipped events.
	GapsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedwatch_gaps_total",
			Help: "Number of resubscriptions from 'now' after an expired resume token.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsDispatched,
		HandlerErrors,
		DispatchLatency,
		DecodeErrors,
		ConnectFailures,
		Reconnects,
		CheckpointsSaved,
		CheckpointErrors,
		GapsDetected,
	)
}
