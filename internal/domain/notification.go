package domain

import (
	"encoding/json"
	"time"
)

type InstanceStatus string

const (
	StatusPending   InstanceStatus = "pending"
	StatusCompleted InstanceStatus = "completed"
	StatusSkipped   InstanceStatus = "skipped"
)

// ParseOutcome converts a resolve outcome. Only terminal statuses are accepted.
func ParseOutcome(s string) (InstanceStatus, error) {
	switch InstanceStatus(s) {
	case StatusCompleted, StatusSkipped:
		return InstanceStatus(s), nil
	default:
		return "", Invalid("outcome", "must be %q or %q, got %q", StatusCompleted, StatusSkipped, s)
	}
}

// NotificationInstance is one materialized occurrence awaiting user action.
type NotificationInstance struct {
	ID                   int64
	ScheduleID           int64
	UserID               int64
	TriggerAt            time.Time
	Status               InstanceStatus
	CompletedOrSkippedAt *time.Time
	LogDetails           json.RawMessage // nil if nothing was logged
	NotifiedAt           *time.Time      // set once the delivery channel announced it
	CreatedAt            time.Time
}

func (n *NotificationInstance) IsPending() bool {
	return n.Status == StatusPending
}

// IsFuturePending reports whether the instance counts against the
// single-pending invariant at the given instant.
func (n *NotificationInstance) IsFuturePending(now time.Time) bool {
	return n.Status == StatusPending && n.TriggerAt.After(now)
}

// DueNotification is a pending due instance joined with the schedule
// metadata needed to display it.
type DueNotification struct {
	Instance     *NotificationInstance
	Title        string
	Message      string
	VariableName string
	DefaultValue *float64
	TelegramID   int64
}
