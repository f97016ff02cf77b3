package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
)

// === Users ===

const userColumns = `id, telegram_id, name, timezone, created_at`

func (s *Storage) CreateUser(ctx context.Context, u *domain.User) error {
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (telegram_id, name, timezone, created_at) VALUES (?, ?, ?, ?)`,
		nullableID(u.TelegramID), u.Name, u.Timezone, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = now
	return nil
}

func (s *Storage) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID))
}

// ListUsers returns all users
func (s *Storage) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Storage) UpdateUserTimezone(ctx context.Context, id int64, tz string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET timezone = ? WHERE id = ?`, tz, id)
	return err
}

func scanUser(row scanner) (*domain.User, error) {
	u := &domain.User{}
	var telegramID sql.NullInt64
	err := row.Scan(&u.ID, &telegramID, &u.Name, &u.Timezone, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.TelegramID = telegramID.Int64
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
