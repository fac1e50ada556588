package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for cuewise.
// Using promauto for automatic registration with default registry.
var (
	// --- Election Metrics ---

	// IsLeader reports whether this instance currently holds leadership.
	IsLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cuewise",
			Subsystem: "election",
			Name:      "is_leader",
			Help:      "1 if this instance is the current leader, 0 otherwise",
		},
	)

	// LeadershipTransitions counts acquisitions and losses.
	LeadershipTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cuewise",
			Subsystem: "election",
			Name:      "transitions_total",
			Help:      "Total leadership transitions by direction",
		},
		[]string{"direction"}, // acquired | lost
	)

	// ElectionDegraded reports the assume-leader fallback being active.
	ElectionDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cuewise",
			Subsystem: "election",
			Name:      "degraded",
			Help:      "1 if leadership was assumed because no lock service is available",
		},
	)

	// --- Synchronizer Metrics ---

	// ReconcilesTotal counts reconciliation passes by outcome.
	ReconcilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cuewise",
			Subsystem: "sync",
			Name:      "reconciles_total",
			Help:      "Total reconciliation passes by outcome",
		},
		[]string{"outcome"}, // converged | error | fenced
	)

	// ReconcileDuration tracks reconciliation pass latency.
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cuewise",
			Subsystem: "sync",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation passes in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	// BackendErrors counts media backend failures by source.
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cuewise",
			Subsystem: "media",
			Name:      "backend_errors_total",
			Help:      "Total media backend errors by source",
		},
		[]string{"source"},
	)

	// --- Intent Metrics ---

	// IntentWrites counts mutations persisted to the shared store.
	IntentWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cuewise",
			Subsystem: "intent",
			Name:      "writes_total",
			Help:      "Total intent mutations persisted by operation",
		},
		[]string{"operation"},
	)

	// IntentWatchEvents counts remote change notifications observed.
	IntentWatchEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cuewise",
			Subsystem: "intent",
			Name:      "watch_events_total",
			Help:      "Total intent change notifications observed",
		},
	)

	// --- Resume Metrics ---

	// ResumeWrites counts throttled resume-position writes.
	ResumeWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cuewise",
			Subsystem: "resume",
			Name:      "writes_total",
			Help:      "Total resume-position writes persisted",
		},
	)

	// --- Cluster Metrics ---

	// ActiveInstances tracks live instances seen in the presence registry.
	ActiveInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cuewise",
			Subsystem: "cluster",
			Name:      "active_instances",
			Help:      "Number of live instances in the presence registry",
		},
	)

	// HeartbeatsSent counts presence heartbeats sent by this instance.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cuewise",
			Subsystem: "cluster",
			Name:      "heartbeats_total",
			Help:      "Total presence heartbeats sent",
		},
	)

	// --- Routine Metrics ---

	// RoutineFires counts scheduled routines applied by the leader.
	RoutineFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cuewise",
			Subsystem: "routines",
			Name:      "fires_total",
			Help:      "Total scheduled routine firings by action",
		},
		[]string{"action"},
	)
)

// RecordReconcile records a completed reconciliation pass.
func RecordReconcile(outcome string, durationSeconds float64) {
	ReconcilesTotal.WithLabelValues(outcome).Inc()
	ReconcileDuration.Observe(durationSeconds)
}

// RecordLeadership flips the leadership gauge and counts the transition.
func RecordLeadership(leader bool) {
	if leader {
		IsLeader.Set(1)
		LeadershipTransitions.WithLabelValues("acquired").Inc()
	} else {
		IsLeader.Set(0)
		LeadershipTransitions.WithLabelValues("lost").Inc()
	}
}
