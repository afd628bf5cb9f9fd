package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	OptimisticAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_optimistic_attempts_total",
			Help: "Optimistic unit-of-work attempts by executor and outcome",
		},
		[]string{"executor", "outcome"}, // success|conflict|error
	)

	OptimisticExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_optimistic_exhausted_total",
			Help: "Units of work that ran out of optimistic retries",
		},
		[]string{"executor"},
	)

	OutboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_outbox_events_total",
			Help: "Outbox relay outcomes by pass and result",
		},
		[]string{"pass", "result"}, // relay|retry , sent|failed|skipped
	)

	OutboxDeadEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "commerce_outbox_dead_events",
			Help: "FAILED outbox events that reached the retry cap",
		},
	)

	ConsumedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_consumed_events_total",
			Help: "Consumed events by type and outcome",
		},
		[]string{"event_type", "outcome"}, // applied|duplicate|duplicate_in_flight|ignored|error
	)

	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_reconcile_payments_total",
			Help: "Reconciliation sweep outcomes per payment",
		},
		[]string{"outcome"}, // resolved|pending|failed
	)

	CarryOverTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_ranking_carry_over_total",
			Help: "Carry-over outcomes per subject",
		},
		[]string{"outcome"}, // seeded|skipped|failed
	)

	TaskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commerce_task_runs_total",
			Help: "Scheduled task runs by task and result",
		},
		[]string{"task", "result"}, // ok|error|overlap|lease_busy
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "commerce_task_duration_seconds",
			Help:    "Scheduled task run duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors once; later calls are no-ops so the
// HTTP server and workers can share a process.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			OptimisticAttempts,
			OptimisticExhausted,
			OutboxEventsTotal,
			OutboxDeadEvents,
			ConsumedEventsTotal,
			ReconcileTotal,
			CarryOverTotal,
			TaskRunsTotal,
			TaskDuration,
		)
	})
}
