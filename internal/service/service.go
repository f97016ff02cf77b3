package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/storage"
)

// Clock returns the current instant. Services take one so tests can pin time.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

// Announcer is told about every schedule mutation. Announcing is
// fire-and-forget: errors are logged and counted by the caller, never
// returned from the mutation. A deleted schedule is announced inactive
// with no next trigger.
type Announcer interface {
	Announce(ctx context.Context, sc *domain.Schedule) error
}

// Store is the persistence the services need. *storage.Storage implements it.
type Store interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error

	CreateGlobalVariable(ctx context.Context, v *domain.GlobalVariable) error
	GetGlobalVariable(ctx context.Context, id int64) (*domain.GlobalVariable, error)
	GetGlobalVariableByName(ctx context.Context, name string) (*domain.GlobalVariable, error)
	ListGlobalVariables(ctx context.Context) ([]*domain.GlobalVariable, error)
	EnsureUserVariable(ctx context.Context, userID, globalVariableID int64) (*domain.UserVariable, bool, error)
	GetUserVariable(ctx context.Context, id int64) (*domain.UserVariable, error)
	VariableNameForLink(ctx context.Context, userVariableID int64) (string, error)

	CreateSchedule(ctx context.Context, sc *domain.Schedule) error
	GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error)
	ListSchedulesByUser(ctx context.Context, userID int64) ([]*domain.Schedule, error)
	ListSchedules(ctx context.Context) ([]*domain.Schedule, error)
	ListDueSchedules(ctx context.Context, now time.Time) ([]*domain.Schedule, error)
	UpdateSchedule(ctx context.Context, sc *domain.Schedule) error
	SetNextTrigger(ctx context.Context, expected *domain.Schedule, next *time.Time) (bool, error)
	DeleteSchedule(ctx context.Context, id int64) (bool, error)

	CreateInstance(ctx context.Context, n *domain.NotificationInstance) error
	GetInstance(ctx context.Context, id int64) (*domain.NotificationInstance, error)
	ListInstancesBySchedule(ctx context.Context, scheduleID int64) ([]*domain.NotificationInstance, error)
	ListFuturePending(ctx context.Context, scheduleID int64, now time.Time) ([]*domain.NotificationInstance, error)
	DeleteFuturePending(ctx context.Context, scheduleID int64, now time.Time) (int64, error)
	ResolveInstance(ctx context.Context, id int64, status domain.InstanceStatus, at time.Time, details json.RawMessage) (bool, error)
	ListPendingDue(ctx context.Context, userID int64, asOf time.Time) ([]*storage.DueRow, error)
	ListUndelivered(ctx context.Context, asOf time.Time, limit int) ([]*storage.DueRow, error)
	MarkDelivered(ctx context.Context, id int64, at time.Time) error
}

var _ Store = (*storage.Storage)(nil)
