// Package user persists user profiles and their streak counters.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daybreak-app/daybreak/internal/errs"
)

// User is a profile row. AuthID is the identity provider's uid and the
// natural key for upserts; ID is our own opaque identity.
type User struct {
	ID            string `json:"id"`
	AuthID        string `json:"-"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	CurrentStreak int    `json:"currentStreak"`
	LongestStreak int    `json:"longestStreak"`
	// LastStreakDate is the last calendar date counted toward the
	// streak, in YYYY-MM-DD form. Nil when no day has counted yet.
	LastStreakDate *string   `json:"lastStreakDate,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store is the SQLite-backed user store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates the store and its schema.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		auth_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		current_streak INTEGER NOT NULL DEFAULT 0,
		longest_streak INTEGER NOT NULL DEFAULT 0,
		last_streak_date TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_auth ON users(auth_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts or updates a user keyed on the external auth id.
// First sight creates the row; later sightings refresh email and
// display name without touching streak state. Never errors on repeat
// calls for the same auth id.
func (s *Store) Upsert(ctx context.Context, authID, email, displayName string) (*User, error) {
	now := time.Now().UTC()
	id, _ := uuid.NewV7()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, auth_id, email, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(auth_id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at
	`, id.String(), authID, email, displayName, now, now)
	if err != nil {
		return nil, errs.DB("upsert user", err)
	}

	return s.GetByAuthID(ctx, authID)
}

// GetByAuthID fetches a user by the identity provider's uid.
func (s *Store) GetByAuthID(ctx context.Context, authID string) (*User, error) {
	return s.getWhere(ctx, "auth_id = ?", authID)
}

// Get fetches a user by internal id.
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	return s.getWhere(ctx, "id = ?", id)
}

func (s *Store) getWhere(ctx context.Context, where string, arg any) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, auth_id, email, display_name, current_streak,
		       longest_streak, last_streak_date, created_at, updated_at
		FROM users WHERE `+where, arg)

	var u User
	var lastDate sql.NullString
	err := row.Scan(&u.ID, &u.AuthID, &u.Email, &u.DisplayName,
		&u.CurrentStreak, &u.LongestStreak, &lastDate, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.DB("get user", err)
	}
	if lastDate.Valid {
		u.LastStreakDate = &lastDate.String
	}
	return &u, nil
}

// Streak reads the streak counters for a user. Satisfies the task
// package's UserStreakStore.
func (s *Store) Streak(ctx context.Context, userID string) (current, longest int, lastDate *string, err error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return 0, 0, nil, err
	}
	return u.CurrentStreak, u.LongestStreak, u.LastStreakDate, nil
}

// SetStreak writes the streak counters. Satisfies the task package's
// UserStreakStore.
func (s *Store) SetStreak(ctx context.Context, userID string, current, longest int, lastDate *string) error {
	return s.UpdateStreak(ctx, userID, current, longest, lastDate)
}

// UpdateStreak writes the streak counters. lastDate may be nil to clear
// the last-counted date. Longest is clamped so current never exceeds it.
func (s *Store) UpdateStreak(ctx context.Context, userID string, current, longest int, lastDate *string) error {
	if longest < current {
		longest = current
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET current_streak = ?, longest_streak = ?, last_streak_date = ?, updated_at = ?
		WHERE id = ?
	`, current, longest, lastDate, time.Now().UTC(), userID)
	if err != nil {
		return errs.DB("update streak", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
