// Package metrics exposes the Prometheus counters and gauges described in SPEC_FULL.md §4.8, served at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MessagesRouted counts frames routed by the message router, labeled by kind (direct/group) and outcome
// (delivered/queued).
var MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulsechat_messages_routed_total",
	Help: "Total messages routed, partitioned by kind and delivery outcome.",
}, []string{"kind", "outcome"})

// PersistFailures counts log-write failures surfaced to clients as PERSIST_FAILED.
var PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulsechat_persist_failures_total",
	Help: "Total message persistence failures, partitioned by kind.",
}, []string{"kind"})

// RefreshRotations counts successful and rejected refresh-token rotations.
var RefreshRotations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pulsechat_refresh_rotations_total",
	Help: "Total refresh token rotation attempts, partitioned by outcome.",
}, []string{"outcome"})

// ActiveSockets is a gauge of the current number of live sockets across all users on this node, read from the
// Connection Registry.
var ActiveSockets = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "pulsechat_active_sockets",
	Help: "Current number of live WebSocket connections on this node.",
})
