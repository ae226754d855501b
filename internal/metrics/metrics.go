// Package metrics holds the process-wide prometheus collectors. Label sets are
// small and fixed: action names and a result class.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dreamie"

var (
	// Transitions counts lifecycle transitions by action and result
	// ("ok", "validation", "policy", "not_found", "store_unavailable").
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by action and result.",
		},
		[]string{"action", "result"},
	)

	// ApplicationsCreated counts create attempts by result.
	ApplicationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applications_created_total",
			Help:      "Application create attempts by result.",
		},
		[]string{"result"},
	)

	ReconcileTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_ticks_total",
		Help:      "Reconciliation ticks run.",
	})

	ReconcileExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_expired_total",
		Help:      "READY applications closed by the countdown.",
	})

	StatusReports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_reports_total",
		Help:      "Per-status change reports emitted.",
	})

	// RemindersSent is labelled by threshold in minutes.
	RemindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Countdown reminders delivered.",
		},
		[]string{"threshold"},
	)

	// NotificationFailures counts best-effort deliveries that failed, by sink
	// ("notifier", "mirror", "audit").
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Failed notification, mirror or audit deliveries.",
		},
		[]string{"sink"},
	)
)

func init() {
	prometheus.MustRegister(
		Transitions,
		ApplicationsCreated,
		ReconcileTicks,
		ReconcileExpired,
		StatusReports,
		RemindersSent,
		NotificationFailures,
	)
}
