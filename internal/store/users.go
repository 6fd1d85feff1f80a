package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parleyhq/parley/internal/auth"
)

const uniqueViolation = "23505"

func (s *Store) CreateUser(ctx context.Context, username, passwordHash, role string) (*auth.User, error) {
	u := &auth.User{Username: username, PasswordHash: passwordHash, Active: true, Role: role}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		username, passwordHash, role,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, auth.ErrDuplicateUsername
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.userBy(ctx, `WHERE id = $1`, id)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.userBy(ctx, `WHERE username = $1`, username)
}

func (s *Store) userBy(ctx context.Context, where string, arg any) (*auth.User, error) {
	var u auth.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, is_active, role, last_login, created_at
		FROM users `+where,
		arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Active, &u.Role, &u.LastLogin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, password_hash, is_active, role, last_login, created_at
		FROM users
		ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Active, &u.Role, &u.LastLogin, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, u *auth.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET username = $1, is_active = $2, role = $3
		WHERE id = $4`,
		u.Username, u.Active, u.Role, u.ID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return auth.ErrDuplicateUsername
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `UPDATE users SET last_login = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}
