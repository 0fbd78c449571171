// Package metrics exposes Prometheus instrumentation for the workflow core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal counts application state transitions by action type.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approvio",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Application state transitions by action type.",
	}, []string{"action"})

	// DispatchesTotal counts notification dispatch outcomes.
	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approvio",
		Subsystem: "notify",
		Name:      "dispatches_total",
		Help:      "Notification delivery job dispatches by outcome.",
	}, []string{"outcome"})

	// DispatchDuration observes how long one dispatch pass takes.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "approvio",
		Subsystem: "notify",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of a dispatch pass over due delivery jobs.",
		Buckets:   prometheus.DefBuckets,
	})

	// RecalculationsTotal counts role-map recalculation runs by result.
	RecalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approvio",
		Subsystem: "rolemap",
		Name:      "recalculations_total",
		Help:      "Role-map recalculation runs by result (completed, skipped, failed).",
	}, []string{"result"})

	// RecalculationDuration observes full role-map rebuild durations.
	RecalculationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "approvio",
		Subsystem: "rolemap",
		Name:      "recalculation_duration_seconds",
		Help:      "Duration of a full role-map rebuild.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})
)
