package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
)

// === Notification instances ===

const instanceColumns = `n.id, n.schedule_id, n.user_id, n.trigger_at, n.status, n.completed_or_skipped_at,
	n.log_details, n.notified_at, n.created_at`

// DueRow is a pending instance joined with what is needed to render it.
type DueRow struct {
	Instance        *domain.NotificationInstance
	TitleTemplate   string
	MessageTemplate string
	VariableName    string
	DefaultValue    *float64
	TelegramID      int64
}

func (s *Storage) CreateInstance(ctx context.Context, n *domain.NotificationInstance) error {
	if n.Status == "" {
		n.Status = domain.StatusPending
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_instances (schedule_id, user_id, trigger_at, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		n.ScheduleID, n.UserID, n.TriggerAt.UTC(), n.Status, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	n.ID = id
	n.TriggerAt = n.TriggerAt.UTC()
	n.CreatedAt = now
	return nil
}

func (s *Storage) GetInstance(ctx context.Context, id int64) (*domain.NotificationInstance, error) {
	return scanInstance(s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM notification_instances n WHERE n.id = ?`, id))
}

func (s *Storage) ListInstancesBySchedule(ctx context.Context, scheduleID int64) ([]*domain.NotificationInstance, error) {
	return s.queryInstances(ctx,
		`SELECT `+instanceColumns+` FROM notification_instances n
		 WHERE n.schedule_id = ? ORDER BY n.trigger_at, n.id`, scheduleID)
}

// ListFuturePending returns pending instances of a schedule with trigger_at after now.
func (s *Storage) ListFuturePending(ctx context.Context, scheduleID int64, now time.Time) ([]*domain.NotificationInstance, error) {
	return s.queryInstances(ctx,
		`SELECT `+instanceColumns+` FROM notification_instances n
		 WHERE n.schedule_id = ? AND n.status = 'pending' AND n.trigger_at > ?
		 ORDER BY n.trigger_at, n.id`, scheduleID, now.UTC())
}

// DeleteFuturePending removes pending instances of a schedule with
// trigger_at after now and returns how many were removed. Resolved and
// already-due instances are left alone.
func (s *Storage) DeleteFuturePending(ctx context.Context, scheduleID int64, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_instances
		 WHERE schedule_id = ? AND status = 'pending' AND trigger_at > ?`,
		scheduleID, now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResolveInstance moves a pending instance to status. It reports false if
// the instance was not pending (or does not exist), leaving it unchanged.
func (s *Storage) ResolveInstance(ctx context.Context, id int64, status domain.InstanceStatus, at time.Time, details json.RawMessage) (bool, error) {
	var logDetails any
	if len(details) > 0 {
		logDetails = string(details)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_instances SET status = ?, completed_or_skipped_at = ?, log_details = ?
		 WHERE id = ? AND status = 'pending'`,
		status, at.UTC(), logDetails, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const dueSelect = `SELECT ` + instanceColumns + `,
	s.title_template, s.message_template, gv.name, s.default_value, COALESCE(u.telegram_id, 0)
	FROM notification_instances n
	JOIN reminder_schedules s ON s.id = n.schedule_id
	JOIN user_variables uv ON uv.id = s.user_variable_id
	JOIN global_variables gv ON gv.id = uv.global_variable_id
	JOIN users u ON u.id = n.user_id`

// ListPendingDue returns the owner's pending instances with trigger_at at or before asOf.
func (s *Storage) ListPendingDue(ctx context.Context, userID int64, asOf time.Time) ([]*DueRow, error) {
	return s.queryDue(ctx, dueSelect+`
		WHERE n.user_id = ? AND n.status = 'pending' AND n.trigger_at <= ?
		ORDER BY n.trigger_at, n.id`, userID, asOf.UTC())
}

// ListUndelivered returns due pending instances not yet announced, oldest first.
func (s *Storage) ListUndelivered(ctx context.Context, asOf time.Time, limit int) ([]*DueRow, error) {
	return s.queryDue(ctx, dueSelect+`
		WHERE n.status = 'pending' AND n.notified_at IS NULL AND n.trigger_at <= ?
		ORDER BY n.trigger_at, n.id LIMIT ?`, asOf.UTC(), limit)
}

func (s *Storage) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_instances SET notified_at = ? WHERE id = ? AND notified_at IS NULL`,
		at.UTC(), id)
	return err
}

func (s *Storage) queryInstances(ctx context.Context, query string, args ...any) ([]*domain.NotificationInstance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*domain.NotificationInstance
	for rows.Next() {
		n, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, n)
	}
	return instances, rows.Err()
}

func (s *Storage) queryDue(ctx context.Context, query string, args ...any) ([]*DueRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*DueRow
	for rows.Next() {
		d := &DueRow{Instance: &domain.NotificationInstance{}}
		var details sql.NullString
		n := d.Instance
		if err := rows.Scan(&n.ID, &n.ScheduleID, &n.UserID, &n.TriggerAt, &n.Status, &n.CompletedOrSkippedAt,
			&details, &n.NotifiedAt, &n.CreatedAt,
			&d.TitleTemplate, &d.MessageTemplate, &d.VariableName, &d.DefaultValue, &d.TelegramID); err != nil {
			return nil, err
		}
		normalizeInstance(n, details)
		due = append(due, d)
	}
	return due, rows.Err()
}

func scanInstance(row scanner) (*domain.NotificationInstance, error) {
	n := &domain.NotificationInstance{}
	var details sql.NullString
	err := row.Scan(&n.ID, &n.ScheduleID, &n.UserID, &n.TriggerAt, &n.Status, &n.CompletedOrSkippedAt,
		&details, &n.NotifiedAt, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	normalizeInstance(n, details)
	return n, nil
}

func normalizeInstance(n *domain.NotificationInstance, details sql.NullString) {
	if details.Valid && details.String != "" {
		n.LogDetails = json.RawMessage(details.String)
	}
	n.TriggerAt = n.TriggerAt.UTC()
	n.CreatedAt = n.CreatedAt.UTC()
	n.CompletedOrSkippedAt = utcPtr(n.CompletedOrSkippedAt)
	n.NotifiedAt = utcPtr(n.NotifiedAt)
}
