// Package metrics exposes the client's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts reducer transitions by action name.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilot_state_transitions_total",
		Help: "Number of state transitions applied, by action.",
	}, []string{"action"})

	// StreamFrames counts inbound stream frames by frame type.
	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pilot_stream_frames_total",
		Help: "Number of inbound stream frames received, by type.",
	}, []string{"type"})

	// NegotiationChanges counts pending-schema changes observed by the poller.
	NegotiationChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilot_negotiation_changes_total",
		Help: "Number of times the pending tool schema changed.",
	})

	// CacheWrites counts write-through persists of the local session cache.
	CacheWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pilot_session_cache_writes_total",
		Help: "Number of local session cache writes.",
	})
)
