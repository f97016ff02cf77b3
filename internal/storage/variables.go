package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tazhate/healthreminders/internal/domain"
)

// === Global variables ===

func (s *Storage) CreateGlobalVariable(ctx context.Context, v *domain.GlobalVariable) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO global_variables (name, category, unit, created_at) VALUES (?, ?, ?, ?)`,
		v.Name, v.Category, v.Unit, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	v.ID = id
	v.CreatedAt = now
	return nil
}

func (s *Storage) GetGlobalVariable(ctx context.Context, id int64) (*domain.GlobalVariable, error) {
	return scanGlobalVariable(s.db.QueryRowContext(ctx,
		`SELECT id, name, category, unit, created_at FROM global_variables WHERE id = ?`, id))
}

func (s *Storage) GetGlobalVariableByName(ctx context.Context, name string) (*domain.GlobalVariable, error) {
	return scanGlobalVariable(s.db.QueryRowContext(ctx,
		`SELECT id, name, category, unit, created_at FROM global_variables WHERE LOWER(name) = LOWER(?)`, name))
}

func (s *Storage) ListGlobalVariables(ctx context.Context) ([]*domain.GlobalVariable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, unit, created_at FROM global_variables ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vars []*domain.GlobalVariable
	for rows.Next() {
		v, err := scanGlobalVariable(rows)
		if err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

func scanGlobalVariable(row scanner) (*domain.GlobalVariable, error) {
	v := &domain.GlobalVariable{}
	err := row.Scan(&v.ID, &v.Name, &v.Category, &v.Unit, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.CreatedAt = v.CreatedAt.UTC()
	return v, nil
}

// === User variables (owner links) ===

// EnsureUserVariable returns the link between userID and globalVariableID,
// creating it if needed. created reports whether this call inserted it.
func (s *Storage) EnsureUserVariable(ctx context.Context, userID, globalVariableID int64) (uv *domain.UserVariable, created bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_variables (user_id, global_variable_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, global_variable_id) DO NOTHING`,
		userID, globalVariableID, time.Now().UTC(),
	)
	if err != nil {
		return nil, false, err
	}
	n, _ := res.RowsAffected()

	uv, err = scanUserVariable(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, global_variable_id, created_at FROM user_variables
		 WHERE user_id = ? AND global_variable_id = ?`,
		userID, globalVariableID))
	if err != nil {
		return nil, false, err
	}
	if uv == nil {
		return nil, false, sql.ErrNoRows
	}
	return uv, n == 1, nil
}

func (s *Storage) GetUserVariable(ctx context.Context, id int64) (*domain.UserVariable, error) {
	return scanUserVariable(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, global_variable_id, created_at FROM user_variables WHERE id = ?`, id))
}

func (s *Storage) ListUserVariables(ctx context.Context, userID int64) ([]*domain.UserVariable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, global_variable_id, created_at FROM user_variables WHERE user_id = ? ORDER BY id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*domain.UserVariable
	for rows.Next() {
		uv, err := scanUserVariable(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, uv)
	}
	return links, rows.Err()
}

// VariableNameForLink returns the global variable name behind an owner link.
func (s *Storage) VariableNameForLink(ctx context.Context, userVariableID int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT gv.name FROM user_variables uv
		 JOIN global_variables gv ON gv.id = uv.global_variable_id
		 WHERE uv.id = ?`, userVariableID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func scanUserVariable(row scanner) (*domain.UserVariable, error) {
	uv := &domain.UserVariable{}
	err := row.Scan(&uv.ID, &uv.UserID, &uv.GlobalVariableID, &uv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	uv.CreatedAt = uv.CreatedAt.UTC()
	return uv, nil
}
