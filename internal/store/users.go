package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"alarmflow/internal/model"
)

// CreateUser inserts a new user with an already-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (model.User, error) {
	user := model.User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, passwordHash, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("username %q: %w", username, ErrDuplicate)
		}
		return model.User{}, fmt.Errorf("cannot create user: %w", err)
	}
	return user, nil
}

// GetUserByID returns the user with the given id.
func (s *Store) GetUserByID(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("cannot load user: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns the user plus its password hash for
// credential verification.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, string, error) {
	var (
		u    model.User
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &hash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, "", fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return model.User{}, "", fmt.Errorf("cannot load user: %w", err)
	}
	return u, hash, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
