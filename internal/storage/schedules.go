package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/recurrence"
)

// === Reminder schedules ===

const scheduleColumns = `id, user_id, user_variable_id, rrule, anchor_date, time_of_day, timezone,
	is_active, next_trigger_at, default_value, title_template, message_template, created_at, updated_at`

// CreateSchedule inserts s and fills in its ID and timestamps.
func (s *Storage) CreateSchedule(ctx context.Context, sc *domain.Schedule) error {
	rrule, err := encodeRule(sc.Spec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_schedules (user_id, user_variable_id, rrule, anchor_date, time_of_day, timezone,
			is_active, next_trigger_at, default_value, title_template, message_template, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.UserID, sc.UserVariableID, rrule, sc.Spec.AnchorDate, sc.Spec.TimeOfDay, sc.Spec.Timezone,
		sc.IsActive, utcArg(sc.NextTriggerAt), sc.DefaultValue, sc.TitleTemplate, sc.MessageTemplate, now, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	sc.ID = id
	sc.CreatedAt = now
	sc.UpdatedAt = now
	return nil
}

func (s *Storage) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	return scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM reminder_schedules WHERE id = ?`, id))
}

func (s *Storage) ListSchedulesByUser(ctx context.Context, userID int64) ([]*domain.Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM reminder_schedules WHERE user_id = ? ORDER BY id`, userID)
}

func (s *Storage) ListSchedulesByUserVariable(ctx context.Context, userVariableID int64) ([]*domain.Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM reminder_schedules WHERE user_variable_id = ? ORDER BY id`, userVariableID)
}

// ListSchedules returns every schedule. Used by reconciliation.
func (s *Storage) ListSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM reminder_schedules ORDER BY id`)
}

// ListDueSchedules returns active schedules whose next trigger is at or before now.
func (s *Storage) ListDueSchedules(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM reminder_schedules
		 WHERE is_active = 1 AND next_trigger_at IS NOT NULL AND next_trigger_at <= ?
		 ORDER BY next_trigger_at`, now.UTC())
}

// UpdateSchedule writes the rule, activity, next trigger and display
// fields of sc in a single statement.
func (s *Storage) UpdateSchedule(ctx context.Context, sc *domain.Schedule) error {
	rrule, err := encodeRule(sc.Spec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminder_schedules SET rrule = ?, anchor_date = ?, time_of_day = ?, timezone = ?,
			is_active = ?, next_trigger_at = ?, default_value = ?, title_template = ?, message_template = ?,
			updated_at = ?
		 WHERE id = ?`,
		rrule, sc.Spec.AnchorDate, sc.Spec.TimeOfDay, sc.Spec.Timezone,
		sc.IsActive, utcArg(sc.NextTriggerAt), sc.DefaultValue, sc.TitleTemplate, sc.MessageTemplate,
		now, sc.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %d: %w", sc.ID, sql.ErrNoRows)
	}
	sc.UpdatedAt = now
	return nil
}

// SetNextTrigger moves the next trigger of expected to next, but only
// while the stored row still carries expected's rule, activity and next
// trigger. It reports false when the row changed underneath the caller or
// no longer exists.
func (s *Storage) SetNextTrigger(ctx context.Context, expected *domain.Schedule, next *time.Time) (bool, error) {
	rrule, err := encodeRule(expected.Spec)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminder_schedules SET next_trigger_at = ?, updated_at = ?
		 WHERE id = ? AND rrule = ? AND anchor_date = ? AND time_of_day = ? AND timezone = ?
			AND is_active = ? AND next_trigger_at IS ?`,
		utcArg(next), time.Now().UTC(),
		expected.ID, rrule, expected.Spec.AnchorDate, expected.Spec.TimeOfDay, expected.Spec.Timezone,
		expected.IsActive, utcArg(expected.NextTriggerAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteSchedule removes a schedule with all of its instances, history
// included. It reports whether the schedule existed.
func (s *Storage) DeleteSchedule(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM notification_instances WHERE schedule_id = ?`, id); err != nil {
			return fmt.Errorf("delete instances: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM reminder_schedules WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete schedule: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func (s *Storage) querySchedules(ctx context.Context, query string, args ...any) ([]*domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

func scanSchedule(row scanner) (*domain.Schedule, error) {
	sc := &domain.Schedule{}
	var rrule string
	err := row.Scan(&sc.ID, &sc.UserID, &sc.UserVariableID, &rrule,
		&sc.Spec.AnchorDate, &sc.Spec.TimeOfDay, &sc.Spec.Timezone,
		&sc.IsActive, &sc.NextTriggerAt, &sc.DefaultValue, &sc.TitleTemplate, &sc.MessageTemplate,
		&sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	freq, err := recurrence.SpecFromRRule(rrule)
	if err != nil {
		return nil, fmt.Errorf("schedule %d: decode rrule %q: %w", sc.ID, rrule, err)
	}
	sc.Spec.Frequency = freq.Frequency
	sc.Spec.Interval = freq.Interval
	sc.Spec.ByWeekday = freq.ByWeekday
	sc.Spec.ByMonthDay = freq.ByMonthDay
	sc.Spec.EndDate = freq.EndDate

	sc.NextTriggerAt = utcPtr(sc.NextTriggerAt)
	sc.CreatedAt = sc.CreatedAt.UTC()
	sc.UpdatedAt = sc.UpdatedAt.UTC()
	return sc, nil
}

func encodeRule(spec domain.RecurrenceSpec) (string, error) {
	rule, err := recurrence.NewRule(spec)
	if err != nil {
		return "", err
	}
	return rule.RRule(), nil
}
