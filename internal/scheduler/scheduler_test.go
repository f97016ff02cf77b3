package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/healthreminders/config"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/service"
	"github.com/tazhate/healthreminders/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*domain.DueNotification
	err  error
}

func (f *fakeSender) SendReminder(chatID int64, n *domain.DueNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type env struct {
	sched     *Scheduler
	schedules *service.ScheduleManager
	queue     *service.NotificationQueue
	db        *storage.Storage
	now       time.Time
	owner     *domain.User
	sc        *domain.Schedule
}

func newEnv(t *testing.T, telegramID int64) *env {
	t.Helper()
	ctx := context.Background()

	db, err := storage.New(filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{db: db, now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }
	log := logger.Discard()

	users := service.NewUserService(db, time.UTC)
	variables := service.NewVariableService(db, log)
	e.queue = service.NewNotificationQueue(db, clock, log)
	e.schedules = service.NewScheduleManager(db, e.queue, variables, nil, clock, log)

	cfg := &config.Config{
		Timezone:         time.UTC,
		OperationTimeout: 5 * time.Second,
		AdvanceSpec:      "* * * * *",
		ReconcileSpec:    "@hourly",
	}
	e.sched = New(cfg, e.schedules, e.queue, log)
	e.sched.clock = clock

	e.owner, err = users.Register(ctx, telegramID, "Ann", "UTC")
	require.NoError(t, err)
	gv, err := variables.CreateGlobalVariable(ctx, "Sleep quality", domain.CategoryMeasurement, "")
	require.NoError(t, err)
	e.sc, err = e.schedules.Create(ctx, service.CreateScheduleInput{
		OwnerID:          e.owner.ID,
		GlobalVariableID: gv.ID,
		Spec: domain.RecurrenceSpec{
			Frequency:  domain.FrequencyDaily,
			Interval:   1,
			AnchorDate: "2024-01-01",
			TimeOfDay:  "09:00",
			Timezone:   "UTC",
		},
	})
	require.NoError(t, err)
	return e
}

func TestTick_AdvancesAndDeliversOnce(t *testing.T) {
	e := newEnv(t, 555)
	sender := &fakeSender{}
	e.sched.SetSender(sender)
	ctx := context.Background()

	e.sched.Tick(ctx)
	assert.Zero(t, sender.count(), "nothing is due yet")

	e.now = time.Date(2024, 1, 2, 9, 0, 30, 0, time.UTC)
	e.sched.Tick(ctx)
	require.Equal(t, 1, sender.count())
	assert.Equal(t, "Time to track Sleep quality", sender.sent[0].Title)

	stored, err := e.db.GetSchedule(ctx, e.sc.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextTriggerAt.Equal(time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)))

	e.sched.Tick(ctx)
	assert.Equal(t, 1, sender.count(), "delivered instances are not sent again")
}

func TestTick_FailedSendIsRetried(t *testing.T) {
	e := newEnv(t, 555)
	sender := &fakeSender{err: errors.New("telegram down")}
	e.sched.SetSender(sender)
	ctx := context.Background()

	e.now = time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC)
	e.sched.Tick(ctx)
	assert.Zero(t, sender.count())

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	e.sched.Tick(ctx)
	assert.Equal(t, 1, sender.count())
}

func TestTick_OwnerWithoutChatIsMarkedDelivered(t *testing.T) {
	e := newEnv(t, 0)
	sender := &fakeSender{}
	e.sched.SetSender(sender)
	ctx := context.Background()

	e.now = time.Date(2024, 1, 2, 9, 1, 0, 0, time.UTC)
	e.sched.Tick(ctx)
	assert.Zero(t, sender.count())

	left, err := e.queue.ListUndelivered(ctx, e.now, 10)
	require.NoError(t, err)
	assert.Empty(t, left)

	due, err := e.queue.ListPendingDue(ctx, e.owner.ID, e.now)
	require.NoError(t, err)
	assert.Len(t, due, 1, "still pending for the owner to resolve")
}

func TestArm_ReplacesAndClearsTimers(t *testing.T) {
	e := newEnv(t, 555)
	ctx := context.Background()

	sc := *e.sc
	require.NoError(t, e.sched.Arm(ctx, &sc))
	require.NoError(t, e.sched.Arm(ctx, &sc))
	assert.Equal(t, 1, e.sched.Armed())

	sc.IsActive = false
	sc.NextTriggerAt = nil
	require.NoError(t, e.sched.Arm(ctx, &sc))
	assert.Zero(t, e.sched.Armed())
}

func TestJobQueue_FansOutToHandlers(t *testing.T) {
	var mu sync.Mutex
	var got []string
	record := func(name string) JobHandler {
		return JobHandler{Name: name, Fn: func(ctx context.Context, sc *domain.Schedule) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name)
			if name == "failing" {
				return errors.New("boom")
			}
			return nil
		}}
	}

	q := NewJobQueue(4, time.Second, logger.Discard(), record("failing"), record("timer"))
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)

	require.NoError(t, q.Announce(ctx, &domain.Schedule{ID: 1, UserID: 1, IsActive: true}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	q.Wait()
	assert.Equal(t, []string{"failing", "timer"}, got, "a failing handler does not stop the others")
}

func TestJobQueue_AnnounceDoesNotBlockWhenFull(t *testing.T) {
	q := NewJobQueue(1, time.Second, logger.Discard())
	ctx := context.Background()

	require.NoError(t, q.Announce(ctx, &domain.Schedule{ID: 1}))
	assert.ErrorIs(t, q.Announce(ctx, &domain.Schedule{ID: 2}), ErrQueueFull)
}

func TestJobQueue_CopiesSchedule(t *testing.T) {
	seen := make(chan time.Time, 1)
	q := NewJobQueue(1, time.Second, logger.Discard(), JobHandler{Name: "capture", Fn: func(ctx context.Context, sc *domain.Schedule) error {
		seen <- *sc.NextTriggerAt
		return nil
	}})

	next := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	sc := &domain.Schedule{ID: 1, IsActive: true, NextTriggerAt: &next}
	require.NoError(t, q.Announce(context.Background(), sc))
	*sc.NextTriggerAt = next.Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	defer func() {
		cancel()
		q.Wait()
	}()

	select {
	case got := <-seen:
		assert.True(t, got.Equal(next))
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}
}

func TestJobQueue_WaitBeforeRunStarts(t *testing.T) {
	q := NewJobQueue(1, time.Second, logger.Discard())

	waited := make(chan struct{})
	go func() {
		q.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned before Run")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx)

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Run")
	}
}
