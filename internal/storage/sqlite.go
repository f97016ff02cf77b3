package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewWithDB wraps an already open database without migrating it.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER UNIQUE,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`ALTER TABLE users ADD COLUMN timezone TEXT NOT NULL DEFAULT 'UTC'`,
		`CREATE TABLE IF NOT EXISTS global_variables (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			category TEXT NOT NULL,
			unit TEXT DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_variables (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			global_variable_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (user_id, global_variable_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (global_variable_id) REFERENCES global_variables(id)
		)`,
		`CREATE TABLE IF NOT EXISTS reminder_schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			user_variable_id INTEGER NOT NULL,
			rrule TEXT NOT NULL,
			anchor_date TEXT NOT NULL,
			time_of_day TEXT NOT NULL,
			timezone TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			next_trigger_at DATETIME,
			default_value REAL,
			title_template TEXT NOT NULL DEFAULT '',
			message_template TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (user_variable_id) REFERENCES user_variables(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_schedules_user ON reminder_schedules(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_schedules_due ON reminder_schedules(is_active, next_trigger_at)`,
		`CREATE TABLE IF NOT EXISTS notification_instances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schedule_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			trigger_at DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			completed_or_skipped_at DATETIME,
			log_details TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (schedule_id) REFERENCES reminder_schedules(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_schedule ON notification_instances(schedule_id, status, trigger_at)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_user ON notification_instances(user_id, status, trigger_at)`,
		// Delivery tracking
		`ALTER TABLE notification_instances ADD COLUMN notified_at DATETIME`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Times are always bound in UTC so that text comparison in SQLite
// orders them correctly.
func utcArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
