// Package metrics defines all custom Prometheus metrics for the waiting-room
// client. It is the single source of truth for metric names, labels, and help
// strings; metrics register themselves with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "waitingroom"

// ── Push channel metrics ──────────────────────────────────────────────────────

// PushEventsTotal counts decoded push events delivered to a state machine.
// Label:
//   - kind: the decoded event kind (e.g. "visitor.picked.up")
var PushEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_events_total",
		Help:      "Total number of push events decoded and dispatched, by kind.",
	},
	[]string{"kind"},
)

// PushEventsDroppedTotal counts deliveries dropped at the transport boundary
// (unknown event name or undecodable payload).
var PushEventsDroppedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_events_dropped_total",
		Help:      "Total number of push deliveries dropped as unknown or malformed.",
	},
)

// ── State synchronisation metrics ─────────────────────────────────────────────

// SnapshotRefetchesTotal counts full snapshot re-pulls triggered by push
// events or reconciliation.
// Label:
//   - resource: "queue_list", "queue_item", or "examination"
var SnapshotRefetchesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_refetches_total",
		Help:      "Total number of full snapshot refetches, by resource.",
	},
	[]string{"resource"},
)

// APIErrorsTotal counts REST calls that surfaced an error to a state machine.
// Label:
//   - kind: "auth", "queue_rejected", "validation", "unavailable", or "other"
var APIErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_errors_total",
		Help:      "Total number of REST errors surfaced to the client, by kind.",
	},
	[]string{"kind"},
)

// ForcedLogoutsTotal counts sessions torn down after a 401 response.
var ForcedLogoutsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forced_logouts_total",
		Help:      "Total number of sessions cleared after an unauthorized response.",
	},
)
