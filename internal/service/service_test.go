package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/storage"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Set(t time.Time) { c.now = t }

type mockAnnouncer struct {
	mock.Mock
}

func (m *mockAnnouncer) Announce(ctx context.Context, sc *domain.Schedule) error {
	args := m.Called(ctx, sc)
	return args.Error(0)
}

var errInjected = errors.New("injected failure")

// failingStore fails the named store operations and delegates the rest.
type failingStore struct {
	*storage.Storage
	fail map[string]bool
	// afterListDue runs once the due schedules have been read.
	afterListDue func()
}

func (f *failingStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	due, err := f.Storage.ListDueSchedules(ctx, now)
	if err == nil && f.afterListDue != nil {
		f.afterListDue()
	}
	return due, err
}

func (f *failingStore) UpdateSchedule(ctx context.Context, sc *domain.Schedule) error {
	if f.fail["UpdateSchedule"] {
		return errInjected
	}
	return f.Storage.UpdateSchedule(ctx, sc)
}

func (f *failingStore) CreateInstance(ctx context.Context, n *domain.NotificationInstance) error {
	if f.fail["CreateInstance"] {
		return errInjected
	}
	return f.Storage.CreateInstance(ctx, n)
}

func (f *failingStore) DeleteFuturePending(ctx context.Context, scheduleID int64, now time.Time) (int64, error) {
	if f.fail["DeleteFuturePending"] {
		return 0, errInjected
	}
	return f.Storage.DeleteFuturePending(ctx, scheduleID, now)
}

type harness struct {
	db        *storage.Storage
	store     *failingStore
	clock     *testClock
	announcer *mockAnnouncer
	users     *UserService
	variables *VariableService
	queue     *NotificationQueue
	schedules *ScheduleManager
	owner     *domain.User
	headache  *domain.GlobalVariable
}

// 2024-01-01 is a Monday.
var monday10 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := storage.New(filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:        db,
		store:     &failingStore{Storage: db, fail: map[string]bool{}},
		clock:     &testClock{now: monday10},
		announcer: &mockAnnouncer{},
	}
	log := logger.Discard()
	h.users = NewUserService(h.store, time.UTC)
	h.variables = NewVariableService(h.store, log)
	h.queue = NewNotificationQueue(h.store, h.clock.Now, log)
	h.schedules = NewScheduleManager(h.store, h.queue, h.variables, h.announcer, h.clock.Now, log)

	h.owner, err = h.users.Register(ctx, 42, "Ann", "UTC")
	require.NoError(t, err)
	h.headache, err = h.variables.CreateGlobalVariable(ctx, "Headache", domain.CategoryCondition, "/5")
	require.NoError(t, err)
	return h
}

func (h *harness) announceAny() {
	h.announcer.On("Announce", mock.Anything, mock.Anything).Return(nil).Maybe()
}

func dailyAt(tod string) domain.RecurrenceSpec {
	return domain.RecurrenceSpec{
		Frequency:  domain.FrequencyDaily,
		Interval:   1,
		AnchorDate: "2024-01-01",
		TimeOfDay:  tod,
		Timezone:   "UTC",
	}
}

func (h *harness) createDaily(t *testing.T) *domain.Schedule {
	t.Helper()
	sc, err := h.schedules.Create(context.Background(), CreateScheduleInput{
		OwnerID:          h.owner.ID,
		GlobalVariableID: h.headache.ID,
		Spec:             dailyAt("09:00"),
	})
	require.NoError(t, err)
	return sc
}

func (h *harness) futurePending(t *testing.T, scheduleID int64) []*domain.NotificationInstance {
	t.Helper()
	list, err := h.db.ListFuturePending(context.Background(), scheduleID, h.clock.Now())
	require.NoError(t, err)
	return list
}

func utc(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}
