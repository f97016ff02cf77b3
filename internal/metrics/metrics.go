// Package metrics holds the Prometheus collectors for the reminder service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Schedule metrics
	ScheduleOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_schedule_operations_total",
			Help: "Total number of schedule mutations",
		},
		[]string{"operation", "result"}, // create, update, deactivate, delete, advance, reconcile
	)

	// Instance queue metrics
	InstancesEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_instances_enqueued_total",
			Help: "Total number of pending notification instances created",
		},
	)

	InstancesCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_instances_cancelled_total",
			Help: "Total number of future pending instances removed by regeneration",
		},
	)

	InstancesResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_instances_resolved_total",
			Help: "Total number of resolved notification instances",
		},
		[]string{"outcome"}, // completed, skipped
	)

	// Delivery metrics
	AnnounceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_announce_failures_total",
			Help: "Total number of failed fire-and-forget announcements",
		},
		[]string{"announcer"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_deliveries_total",
			Help: "Total number of due notification deliveries",
		},
		[]string{"result"}, // sent, failed
	)

	JobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reminder_job_queue_depth",
			Help: "Current number of queued scheduling jobs",
		},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// TrackScheduleOperation counts a schedule mutation by outcome.
func TrackScheduleOperation(operation string, err error) {
	ScheduleOperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

func TrackAnnounceFailure(announcer string) {
	AnnounceFailuresTotal.WithLabelValues(announcer).Inc()
}

func TrackDelivery(err error) {
	if err != nil {
		DeliveriesTotal.WithLabelValues("failed").Inc()
		return
	}
	DeliveriesTotal.WithLabelValues("sent").Inc()
}
