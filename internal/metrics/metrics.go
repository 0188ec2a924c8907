// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal counts inbound Telegram updates by kind (message, callback).
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_bot_updates_total",
		Help: "Total number of Telegram updates handled",
	}, []string{"kind"})

	// HandlerPanics counts updates whose handler panicked and was recovered.
	HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_bot_handler_panics_total",
		Help: "Total number of recovered handler panics",
	})

	// GatingChecks counts membership lookups by outcome (pass, fail, inconclusive, cached).
	GatingChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_bot_gating_checks_total",
		Help: "Total number of channel membership checks by outcome",
	}, []string{"outcome"})

	// Deliveries counts media deliveries by result.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_bot_deliveries_total",
		Help: "Total number of item deliveries by result",
	}, []string{"result"})

	// BroadcastMessages counts broadcast sends by result.
	BroadcastMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_bot_broadcast_messages_total",
		Help: "Total number of broadcast messages by result",
	}, []string{"result"})

	// SessionsCommitted counts conversational flows that reached a commit, by flow name.
	SessionsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_bot_sessions_committed_total",
		Help: "Total number of completed conversational flows",
	}, []string{"flow"})

	// HandleLatency records how long an update took to handle.
	HandleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_bot_handle_latency_seconds",
		Help:    "Update handling latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// Result returns the label for a success flag.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// Track returns a function that records the handling latency of kind when called.
func Track(kind string) func() {
	start := time.Now()
	return func() {
		HandleLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
