package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/metrics"
	"github.com/tazhate/healthreminders/internal/storage"
)

// NotificationQueue holds the materialized occurrences of schedules.
type NotificationQueue struct {
	store Store
	clock Clock
	log   *logger.Logger
}

func NewNotificationQueue(s Store, clock Clock, log *logger.Logger) *NotificationQueue {
	if clock == nil {
		clock = SystemClock
	}
	return &NotificationQueue{store: s, clock: clock, log: log}
}

// EnqueueFor inserts one pending instance for sc at triggerAt. It does not
// deduplicate; callers cancel future pending instances first.
func (q *NotificationQueue) EnqueueFor(ctx context.Context, sc *domain.Schedule, triggerAt time.Time) (*domain.NotificationInstance, error) {
	n := &domain.NotificationInstance{
		ScheduleID: sc.ID,
		UserID:     sc.UserID,
		TriggerAt:  triggerAt.UTC(),
		Status:     domain.StatusPending,
	}
	if err := q.store.CreateInstance(ctx, n); err != nil {
		return nil, domain.Dependency("enqueue instance", err)
	}
	metrics.InstancesEnqueuedTotal.Inc()
	return n, nil
}

// cancelFuture removes the schedule's pending instances that have not
// triggered yet.
func (q *NotificationQueue) cancelFuture(ctx context.Context, scheduleID int64, now time.Time) (int64, error) {
	n, err := q.store.DeleteFuturePending(ctx, scheduleID, now)
	if err != nil {
		return 0, domain.Dependency("cancel pending instances", err)
	}
	metrics.InstancesCancelledTotal.Add(float64(n))
	return n, nil
}

// Resolve moves a pending instance owned by ownerID to completed or
// skipped, exactly once. logDetails, if given, must be a JSON object.
// Resolving never touches the schedule.
func (q *NotificationQueue) Resolve(ctx context.Context, instanceID, ownerID int64, outcome string, logDetails json.RawMessage) (*domain.NotificationInstance, error) {
	status, err := domain.ParseOutcome(outcome)
	if err != nil {
		return nil, err
	}
	if len(logDetails) > 0 {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(logDetails, &obj); err != nil || obj == nil {
			return nil, domain.Invalid("log_details", "must be a JSON object")
		}
	}

	n, err := q.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, domain.Dependency("get instance", err)
	}
	if n == nil || n.UserID != ownerID {
		return nil, &domain.NotFoundError{Entity: "notification", ID: instanceID}
	}
	if !n.IsPending() {
		return nil, &domain.AlreadyResolvedError{InstanceID: n.ID, Status: n.Status}
	}

	at := q.clock().UTC()
	ok, err := q.store.ResolveInstance(ctx, instanceID, status, at, logDetails)
	if err != nil {
		return nil, domain.Dependency("resolve instance", err)
	}
	if !ok {
		// Lost a race with a concurrent resolve.
		current, err := q.store.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, domain.Dependency("get instance", err)
		}
		if current == nil {
			return nil, &domain.NotFoundError{Entity: "notification", ID: instanceID}
		}
		return nil, &domain.AlreadyResolvedError{InstanceID: current.ID, Status: current.Status}
	}

	n.Status = status
	n.CompletedOrSkippedAt = &at
	n.LogDetails = logDetails
	metrics.InstancesResolvedTotal.WithLabelValues(string(status)).Inc()

	q.log.WithComponent("notification-queue").WithFields(map[string]interface{}{
		"instance_id": n.ID,
		"schedule_id": n.ScheduleID,
		"outcome":     status,
	}).Info("Notification resolved")
	return n, nil
}

// ListPendingDue returns the owner's pending instances with triggerAt at
// or before asOf, rendered for display. It does not modify anything.
func (q *NotificationQueue) ListPendingDue(ctx context.Context, ownerID int64, asOf time.Time) ([]*domain.DueNotification, error) {
	rows, err := q.store.ListPendingDue(ctx, ownerID, asOf)
	if err != nil {
		return nil, domain.Dependency("list due notifications", err)
	}
	return render(rows), nil
}

// ListUndelivered returns due instances of any owner that have not been
// sent to the delivery channel yet.
func (q *NotificationQueue) ListUndelivered(ctx context.Context, asOf time.Time, limit int) ([]*domain.DueNotification, error) {
	rows, err := q.store.ListUndelivered(ctx, asOf, limit)
	if err != nil {
		return nil, domain.Dependency("list undelivered notifications", err)
	}
	return render(rows), nil
}

func (q *NotificationQueue) MarkDelivered(ctx context.Context, instanceID int64) error {
	if err := q.store.MarkDelivered(ctx, instanceID, q.clock()); err != nil {
		return domain.Dependency("mark delivered", err)
	}
	return nil
}

// History lists every instance of a schedule owned by ownerID, oldest first.
func (q *NotificationQueue) History(ctx context.Context, scheduleID, ownerID int64) ([]*domain.NotificationInstance, error) {
	sc, err := q.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, domain.Dependency("get schedule", err)
	}
	if sc == nil || sc.UserID != ownerID {
		return nil, &domain.NotFoundError{Entity: "schedule", ID: scheduleID}
	}
	list, err := q.store.ListInstancesBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, domain.Dependency("list instances", err)
	}
	return list, nil
}

func render(rows []*storage.DueRow) []*domain.DueNotification {
	out := make([]*domain.DueNotification, 0, len(rows))
	for _, r := range rows {
		out = append(out, &domain.DueNotification{
			Instance:     r.Instance,
			Title:        domain.Render(r.TitleTemplate, r.VariableName, r.DefaultValue),
			Message:      domain.Render(r.MessageTemplate, r.VariableName, r.DefaultValue),
			VariableName: r.VariableName,
			DefaultValue: r.DefaultValue,
			TelegramID:   r.TelegramID,
		})
	}
	return out
}
