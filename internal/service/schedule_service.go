package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/metrics"
	"github.com/tazhate/healthreminders/internal/recurrence"
)

type CreateScheduleInput struct {
	OwnerID int64
	// One of UserVariableID or GlobalVariableID identifies what the
	// reminder is about. A global variable is linked to the owner on demand.
	UserVariableID   int64
	GlobalVariableID int64
	Spec             domain.RecurrenceSpec
	Inactive         bool
	DefaultValue     *float64
	TitleTemplate    string
	MessageTemplate  string
}

// UpdateScheduleInput carries the fields to change; nil means keep.
type UpdateScheduleInput struct {
	Spec              *domain.RecurrenceSpec
	IsActive          *bool
	DefaultValue      *float64
	ClearDefaultValue bool
	TitleTemplate     *string
	MessageTemplate   *string
}

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	Checked  int
	Repaired int
}

// ScheduleManager owns schedule lifecycle and keeps each schedule's queue
// of future pending instances consistent with its rule.
type ScheduleManager struct {
	store     Store
	queue     *NotificationQueue
	variables *VariableService
	announcer Announcer
	clock     Clock
	log       *logger.Logger
	locks     scheduleLocks
}

// scheduleLocks serializes the writers of one schedule within a process.
// Writers in other processes are caught by SetNextTrigger's row check.
type scheduleLocks [32]sync.Mutex

func (l *scheduleLocks) lock(id int64) (unlock func()) {
	mu := &l[uint64(id)%uint64(len(l))]
	mu.Lock()
	return mu.Unlock
}

func NewScheduleManager(s Store, q *NotificationQueue, v *VariableService, a Announcer, clock Clock, log *logger.Logger) *ScheduleManager {
	if clock == nil {
		clock = SystemClock
	}
	return &ScheduleManager{
		store:     s,
		queue:     q,
		variables: v,
		announcer: a,
		clock:     clock,
		log:       log,
	}
}

// SetAnnouncer replaces the announcer. The daemon wires it after the job
// queue, which itself needs the manager, is built.
func (m *ScheduleManager) SetAnnouncer(a Announcer) {
	m.announcer = a
}

// Create validates the rule, persists the schedule and materializes its
// first pending instance.
func (m *ScheduleManager) Create(ctx context.Context, in CreateScheduleInput) (sc *domain.Schedule, err error) {
	defer func() { metrics.TrackScheduleOperation("create", err) }()

	rule, err := recurrence.NewRule(in.Spec)
	if err != nil {
		return nil, err
	}

	linkID, err := m.resolveLink(ctx, in)
	if err != nil {
		return nil, err
	}

	now := m.clock()
	sc = &domain.Schedule{
		UserID:          in.OwnerID,
		UserVariableID:  linkID,
		Spec:            rule.Spec(),
		IsActive:        !in.Inactive,
		DefaultValue:    in.DefaultValue,
		TitleTemplate:   orDefault(in.TitleTemplate, domain.DefaultTitleTemplate),
		MessageTemplate: orDefault(in.MessageTemplate, domain.DefaultMessageTemplate),
	}
	if sc.IsActive {
		sc.NextTriggerAt = rule.NextFrom(now)
	}

	if err := m.store.CreateSchedule(ctx, sc); err != nil {
		return nil, domain.Dependency("create schedule", err)
	}

	if sc.NextTriggerAt != nil {
		if _, err := m.queue.EnqueueFor(ctx, sc, *sc.NextTriggerAt); err != nil {
			m.log.Mutation("create", sc.ID, false, map[string]interface{}{"step": "enqueue", "error": err.Error()})
			return sc, partial("create schedule", err)
		}
	}

	m.log.Mutation("create", sc.ID, true, map[string]interface{}{
		"rule":            rule.String(),
		"next_trigger_at": sc.NextTriggerAt,
	})
	m.announce(ctx, sc)
	return sc, nil
}

// CreateDefault links the owner to a global variable and gives it a daily
// reminder at the default time, unless the link already has a schedule.
func (m *ScheduleManager) CreateDefault(ctx context.Context, ownerID, globalVariableID int64, timezone string) (*domain.Schedule, error) {
	linkID, err := m.variables.EnsureOwnerLink(ctx, ownerID, globalVariableID)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.ListSchedulesByUser(ctx, ownerID)
	if err != nil {
		return nil, domain.Dependency("list schedules", err)
	}
	for _, sc := range existing {
		if sc.UserVariableID == linkID {
			return sc, nil
		}
	}

	if timezone == "" {
		owner, err := m.store.GetUser(ctx, ownerID)
		if err != nil {
			return nil, domain.Dependency("get owner", err)
		}
		if owner != nil {
			timezone = owner.Timezone
		}
	}

	today := m.clock()
	if loc, err := time.LoadLocation(timezone); err == nil {
		today = today.In(loc)
	}

	return m.Create(ctx, CreateScheduleInput{
		OwnerID:        ownerID,
		UserVariableID: linkID,
		Spec: domain.RecurrenceSpec{
			Frequency:  domain.FrequencyDaily,
			Interval:   1,
			AnchorDate: today.Format(domain.DateLayout),
			TimeOfDay:  domain.DefaultReminderTime,
			Timezone:   timezone,
		},
	})
}

// Update applies in to a schedule and regenerates its pending instance.
//
// The row is written first, in one statement, with the next trigger
// already computed. If that fails nothing else is touched. Future pending
// instances are then cancelled and one new instance is enqueued. A failure
// in either of those steps is returned as a partial DependencyError; the
// row is already updated and Reconcile brings the queue back in line.
func (m *ScheduleManager) Update(ctx context.Context, scheduleID, ownerID int64, in UpdateScheduleInput) (sc *domain.Schedule, err error) {
	defer func() { metrics.TrackScheduleOperation("update", err) }()
	return m.update(ctx, "update", scheduleID, ownerID, in)
}

// Deactivate stops a schedule: no next trigger, no future pending instance.
func (m *ScheduleManager) Deactivate(ctx context.Context, scheduleID, ownerID int64) (sc *domain.Schedule, err error) {
	defer func() { metrics.TrackScheduleOperation("deactivate", err) }()
	inactive := false
	return m.update(ctx, "deactivate", scheduleID, ownerID, UpdateScheduleInput{IsActive: &inactive})
}

func (m *ScheduleManager) update(ctx context.Context, op string, scheduleID, ownerID int64, in UpdateScheduleInput) (*domain.Schedule, error) {
	defer m.locks.lock(scheduleID)()

	current, err := m.owned(ctx, scheduleID, ownerID)
	if err != nil {
		return nil, err
	}

	next := *current
	if in.Spec != nil {
		next.Spec = *in.Spec
	}
	if in.IsActive != nil {
		next.IsActive = *in.IsActive
	}
	switch {
	case in.ClearDefaultValue:
		next.DefaultValue = nil
	case in.DefaultValue != nil:
		next.DefaultValue = in.DefaultValue
	}
	if in.TitleTemplate != nil {
		next.TitleTemplate = orDefault(*in.TitleTemplate, domain.DefaultTitleTemplate)
	}
	if in.MessageTemplate != nil {
		next.MessageTemplate = orDefault(*in.MessageTemplate, domain.DefaultMessageTemplate)
	}

	rule, err := recurrence.NewRule(next.Spec)
	if err != nil {
		return nil, err
	}
	next.Spec = rule.Spec()

	now := m.clock()
	next.NextTriggerAt = nil
	if next.IsActive {
		next.NextTriggerAt = rule.NextFrom(now)
	}

	if err := m.store.UpdateSchedule(ctx, &next); err != nil {
		m.log.Mutation(op, scheduleID, false, map[string]interface{}{"step": "write", "error": err.Error()})
		return nil, domain.Dependency(op+" schedule", err)
	}

	if err := m.regenerate(ctx, &next, now); err != nil {
		m.log.Mutation(op, scheduleID, false, map[string]interface{}{"step": "regenerate", "error": err.Error()})
		return &next, partial(op+" schedule", err)
	}

	m.log.Mutation(op, scheduleID, true, map[string]interface{}{
		"rule":            rule.String(),
		"active":          next.IsActive,
		"next_trigger_at": next.NextTriggerAt,
	})
	m.announce(ctx, &next)
	return &next, nil
}

// regenerate cancels every future pending instance of sc and enqueues
// one at sc.NextTriggerAt. Cancellation always completes first.
func (m *ScheduleManager) regenerate(ctx context.Context, sc *domain.Schedule, now time.Time) error {
	cancelled, err := m.queue.cancelFuture(ctx, sc.ID, now)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		m.log.WithSchedule(sc.ID, sc.UserID).WithField("cancelled", cancelled).Debug("Cancelled future pending instances")
	}
	if sc.IsActive && sc.NextTriggerAt != nil && !sc.NextTriggerAt.Before(now) {
		if _, err := m.queue.EnqueueFor(ctx, sc, *sc.NextTriggerAt); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a schedule and its whole instance history.
func (m *ScheduleManager) Delete(ctx context.Context, scheduleID, ownerID int64) (err error) {
	defer func() { metrics.TrackScheduleOperation("delete", err) }()
	defer m.locks.lock(scheduleID)()

	sc, err := m.owned(ctx, scheduleID, ownerID)
	if err != nil {
		return err
	}
	deleted, err := m.store.DeleteSchedule(ctx, scheduleID)
	if err != nil {
		return domain.Dependency("delete schedule", err)
	}
	if !deleted {
		return &domain.NotFoundError{Entity: "schedule", ID: scheduleID}
	}

	m.log.Mutation("delete", scheduleID, true, nil)
	sc.IsActive = false
	sc.NextTriggerAt = nil
	m.announce(ctx, sc)
	return nil
}

func (m *ScheduleManager) Get(ctx context.Context, scheduleID, ownerID int64) (*domain.Schedule, error) {
	return m.owned(ctx, scheduleID, ownerID)
}

func (m *ScheduleManager) List(ctx context.Context, ownerID int64) ([]*domain.Schedule, error) {
	list, err := m.store.ListSchedulesByUser(ctx, ownerID)
	if err != nil {
		return nil, domain.Dependency("list schedules", err)
	}
	return list, nil
}

// Preview returns up to count upcoming occurrences of a schedule's rule,
// starting now, whether or not the schedule is active.
func (m *ScheduleManager) Preview(ctx context.Context, scheduleID, ownerID int64, count int) ([]time.Time, error) {
	sc, err := m.owned(ctx, scheduleID, ownerID)
	if err != nil {
		return nil, err
	}
	if count < 1 || count > 100 {
		return nil, domain.Invalid("count", "must be between 1 and 100")
	}
	rule, err := recurrence.NewRule(sc.Spec)
	if err != nil {
		return nil, domain.Dependency("compile stored rule", err)
	}
	now := m.clock()
	return rule.Between(now, now.AddDate(10, 0, 0), count), nil
}

// AdvanceDue moves every active schedule whose next trigger has passed to
// its first occurrence strictly after now and regenerates its pending
// instance. Occurrences missed while nothing ran are skipped, not replayed.
func (m *ScheduleManager) AdvanceDue(ctx context.Context, now time.Time) (advanced int, err error) {
	defer func() { metrics.TrackScheduleOperation("advance", err) }()

	due, err := m.store.ListDueSchedules(ctx, now)
	if err != nil {
		return 0, domain.Dependency("list due schedules", err)
	}

	var errs []error
	for _, sc := range due {
		moved, err := m.advance(ctx, sc, now)
		if err != nil {
			m.log.WithSchedule(sc.ID, sc.UserID).WithError(err).Error("Failed to advance schedule")
			errs = append(errs, fmt.Errorf("schedule %d: %w", sc.ID, err))
			continue
		}
		if moved {
			advanced++
		}
	}
	return advanced, errors.Join(errs...)
}

// advance moves sc from its listed trigger to the next occurrence. It
// reports false, without touching the queue, when the stored schedule was
// edited, deactivated or deleted after it was listed; that writer already
// regenerated the queue.
func (m *ScheduleManager) advance(ctx context.Context, sc *domain.Schedule, now time.Time) (bool, error) {
	defer m.locks.lock(sc.ID)()

	rule, err := recurrence.NewRule(sc.Spec)
	if err != nil {
		return false, domain.Dependency("compile stored rule", err)
	}
	next := rule.NextAfter(now)
	ok, err := m.store.SetNextTrigger(ctx, sc, next)
	if err != nil {
		return false, domain.Dependency("set next trigger", err)
	}
	if !ok {
		m.log.WithSchedule(sc.ID, sc.UserID).Debug("Schedule changed since it was listed, not advancing")
		return false, nil
	}
	sc.NextTriggerAt = next

	if err := m.regenerate(ctx, sc, now); err != nil {
		return false, partial("advance schedule", err)
	}
	m.log.WithSchedule(sc.ID, sc.UserID).WithField("next_trigger_at", sc.NextTriggerAt).Debug("Schedule advanced")
	m.announce(ctx, sc)
	return true, nil
}

// Reconcile repairs schedules whose stored next trigger or future pending
// instances disagree with their rule, e.g. after a partial update.
func (m *ScheduleManager) Reconcile(ctx context.Context, now time.Time) (report ReconcileReport, err error) {
	defer func() { metrics.TrackScheduleOperation("reconcile", err) }()

	all, err := m.store.ListSchedules(ctx)
	if err != nil {
		return report, domain.Dependency("list schedules", err)
	}

	var errs []error
	for _, sc := range all {
		report.Checked++
		repaired, err := m.reconcileOne(ctx, sc, now)
		if err != nil {
			m.log.WithSchedule(sc.ID, sc.UserID).WithError(err).Error("Failed to reconcile schedule")
			errs = append(errs, fmt.Errorf("schedule %d: %w", sc.ID, err))
			continue
		}
		if repaired {
			report.Repaired++
			m.log.Mutation("reconcile", sc.ID, true, map[string]interface{}{"next_trigger_at": sc.NextTriggerAt})
		}
	}
	return report, errors.Join(errs...)
}

// reconcileOne re-reads sc under its lock so that an edit landing after
// the listing is not undone, then repairs its next trigger and queue.
func (m *ScheduleManager) reconcileOne(ctx context.Context, sc *domain.Schedule, now time.Time) (bool, error) {
	defer m.locks.lock(sc.ID)()

	fresh, err := m.store.GetSchedule(ctx, sc.ID)
	if err != nil {
		return false, domain.Dependency("get schedule", err)
	}
	if fresh == nil {
		return false, nil
	}
	*sc = *fresh

	want := sc.NextTriggerAt
	if !sc.IsActive {
		want = nil
	} else if want == nil || !want.After(now) {
		rule, err := recurrence.NewRule(sc.Spec)
		if err != nil {
			return false, domain.Dependency("compile stored rule", err)
		}
		want = rule.NextAfter(now)
	}

	repaired := false
	if !sameInstant(want, sc.NextTriggerAt) {
		ok, err := m.store.SetNextTrigger(ctx, sc, want)
		if err != nil {
			return false, domain.Dependency("set next trigger", err)
		}
		if !ok {
			return false, nil
		}
		sc.NextTriggerAt = want
		repaired = true
	}

	pending, err := m.store.ListFuturePending(ctx, sc.ID, now)
	if err != nil {
		return repaired, domain.Dependency("list pending instances", err)
	}
	if queueMatches(pending, want) {
		return repaired, nil
	}
	if err := m.regenerate(ctx, sc, now); err != nil {
		return repaired, err
	}
	return true, nil
}

func queueMatches(pending []*domain.NotificationInstance, want *time.Time) bool {
	if want == nil {
		return len(pending) == 0
	}
	return len(pending) == 1 && pending[0].TriggerAt.Equal(*want)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *ScheduleManager) owned(ctx context.Context, scheduleID, ownerID int64) (*domain.Schedule, error) {
	sc, err := m.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, domain.Dependency("get schedule", err)
	}
	if sc == nil || sc.UserID != ownerID {
		return nil, &domain.NotFoundError{Entity: "schedule", ID: scheduleID}
	}
	return sc, nil
}

func (m *ScheduleManager) resolveLink(ctx context.Context, in CreateScheduleInput) (int64, error) {
	switch {
	case in.UserVariableID != 0:
		link, err := m.variables.ownedLink(ctx, in.OwnerID, in.UserVariableID)
		if err != nil {
			return 0, err
		}
		return link.ID, nil
	case in.GlobalVariableID != 0:
		return m.variables.EnsureOwnerLink(ctx, in.OwnerID, in.GlobalVariableID)
	default:
		return 0, domain.Invalid("variable", "user_variable_id or global_variable_id is required")
	}
}

func (m *ScheduleManager) announce(ctx context.Context, sc *domain.Schedule) {
	if m.announcer == nil {
		return
	}
	if err := m.announcer.Announce(ctx, sc); err != nil {
		metrics.TrackAnnounceFailure(announcerName(m.announcer))
		m.log.WithSchedule(sc.ID, sc.UserID).WithError(err).Warn("Announce failed")
	}
}

func announcerName(a Announcer) string {
	if n, ok := a.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", a)
}

func partial(op string, err error) error {
	var dep *domain.DependencyError
	if errors.As(err, &dep) {
		return &domain.DependencyError{Op: op, Err: dep.Err, Partial: true}
	}
	return &domain.DependencyError{Op: op, Err: err, Partial: true}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
