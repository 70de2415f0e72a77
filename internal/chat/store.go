// Package chat persists chat sessions, messages, and the pending
// confirmation payloads the agent attaches to them.
package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daybreak-app/daybreak/internal/errs"
)

// DefaultTitle is the placeholder a new session starts with. The first
// user message replaces it.
const DefaultTitle = "New chat"

// recentQueryLimit caps the per-user recent-query history.
const recentQueryLimit = 10

// Session is one conversation thread. At most one session per user is
// active at a time.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Active    bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Confirmation is a pending proposal attached to a message. It moves
// from proposed to exactly one of confirmed or cancelled.
type Confirmation struct {
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	Confirmed bool            `json:"confirmed"`
	Cancelled bool            `json:"cancelled"`
}

// Message is one chat turn. Tasks optionally carries search results
// shown alongside the text.
type Message struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"sessionId"`
	Text         string          `json:"text"`
	FromUser     bool            `json:"isFromUser"`
	Confirmation *Confirmation   `json:"confirmation,omitempty"`
	Tasks        json.RawMessage `json:"tasks,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Store is the SQLite-backed chat store.
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
		return nil, fmt.Errorf("migrate chat: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON chat_sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		from_user BOOLEAN NOT NULL,
		pending_action TEXT,
		pending_data TEXT,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled BOOLEAN NOT NULL DEFAULT FALSE,
		tasks TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS recent_queries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		query TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recent_user ON recent_queries(user_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession opens a new active session for the user, deactivating
// every other session they own. Both statements run in one transaction
// so a single request can't observe two active sessions; concurrent
// requests from the same user can still race, which is accepted.
func (s *Store) CreateSession(ctx context.Context, userID, title string) (*Session, error) {
	if title == "" {
		title = DefaultTitle
	}
	id, _ := uuid.NewV7()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.DB("begin create session", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET active = FALSE, updated_at = ? WHERE user_id = ?`,
		now, userID); err != nil {
		return nil, errs.DB("deactivate sessions", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, title, active, created_at, updated_at)
		VALUES (?, ?, ?, TRUE, ?, ?)
	`, id.String(), userID, title, now, now); err != nil {
		return nil, errs.DB("insert session", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.DB("commit create session", err)
	}

	return &Session{ID: id.String(), UserID: userID, Title: title, Active: true, CreatedAt: now, UpdatedAt: now}, nil
}

// ActivateSession marks one of the user's sessions active and the rest
// inactive.
func (s *Store) ActivateSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("session %s: %w", sessionID, errs.ErrForbidden)
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.DB("begin activate session", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET active = FALSE, updated_at = ? WHERE user_id = ?`,
		now, userID); err != nil {
		return nil, errs.DB("deactivate sessions", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET active = TRUE, updated_at = ? WHERE id = ?`,
		now, sessionID); err != nil {
		return nil, errs.DB("activate session", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.DB("commit activate session", err)
	}

	sess.Active = true
	sess.UpdatedAt = now
	return sess, nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, active, created_at, updated_at
		FROM chat_sessions WHERE id = ?
	`, id)
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Active, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.DB("get session", err)
	}
	return &sess, nil
}

// ListSessions returns the user's sessions, newest activity first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, active, created_at, updated_at
		FROM chat_sessions WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, errs.DB("list sessions", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Active,
			&sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, errs.DB("scan session", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// AddMessage appends a message to a session. The first user message in
// a still-placeholder-titled session also becomes the session title.
func (s *Store) AddMessage(ctx context.Context, m *Message) (*Message, error) {
	sess, err := s.GetSession(ctx, m.SessionID)
	if err != nil {
		return nil, err
	}

	id, _ := uuid.NewV7()
	m.ID = id.String()
	m.CreatedAt = time.Now().UTC()

	var pendingAction, pendingData any
	confirmed, cancelled := false, false
	if m.Confirmation != nil {
		pendingAction = m.Confirmation.Action
		pendingData = string(m.Confirmation.Data)
		confirmed = m.Confirmation.Confirmed
		cancelled = m.Confirmation.Cancelled
	}
	var tasksJSON any
	if len(m.Tasks) > 0 {
		tasksJSON = string(m.Tasks)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, text, from_user,
			pending_action, pending_data, confirmed, cancelled, tasks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.SessionID, m.Text, m.FromUser,
		pendingAction, pendingData, confirmed, cancelled, tasksJSON, m.CreatedAt)
	if err != nil {
		return nil, errs.DB("insert message", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`,
		m.CreatedAt, m.SessionID); err != nil {
		return nil, errs.DB("touch session", err)
	}

	if m.FromUser && sess.Title == DefaultTitle {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE chat_sessions SET title = ? WHERE id = ?`,
			deriveTitle(m.Text), m.SessionID); err != nil {
			return nil, errs.DB("retitle session", err)
		}
	}

	return m, nil
}

// GetMessage fetches a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, text, from_user,
		       pending_action, pending_data, confirmed, cancelled, tasks, created_at
		FROM chat_messages WHERE id = ?
	`, id)
	return scanMessage(row)
}

// ListMessages returns a session's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, text, from_user,
		       pending_action, pending_data, confirmed, cancelled, tasks, created_at
		FROM chat_messages WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, errs.DB("list messages", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SetConfirmation attaches (or replaces) the pending proposal on a
// message without executing anything.
func (s *Store) SetConfirmation(ctx context.Context, messageID, action string, data json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages
		SET pending_action = ?, pending_data = ?, confirmed = FALSE, cancelled = FALSE
		WHERE id = ?
	`, action, string(data), messageID)
	if err != nil {
		return errs.DB("set confirmation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ResolveConfirmation flips the stored proposal to confirmed or
// cancelled. The flags are terminal; the handler never resolves a
// message twice.
func (s *Store) ResolveConfirmation(ctx context.Context, messageID string, confirmed bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET confirmed = ?, cancelled = ? WHERE id = ?
	`, confirmed, !confirmed, messageID)
	if err != nil {
		return errs.DB("resolve confirmation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RememberQuery records a free-text search for the user's recent-query
// list and trims the list to the newest entries. The trim is best
// effort; a concurrent writer can briefly leave an extra row.
func (s *Store) RememberQuery(ctx context.Context, userID, query string) error {
	if query == "" {
		return nil
	}
	id, _ := uuid.NewV7()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO recent_queries (id, user_id, query, created_at)
		VALUES (?, ?, ?, ?)
	`, id.String(), userID, query, time.Now().UTC()); err != nil {
		return errs.DB("remember query", err)
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM recent_queries
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM recent_queries
			WHERE user_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
	`, userID, userID, recentQueryLimit)
	return errs.DB("trim queries", err)
}

// RecentQueries returns the user's newest recorded searches.
func (s *Store) RecentQueries(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query FROM recent_queries
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, recentQueryLimit)
	if err != nil {
		return nil, errs.DB("recent queries", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, errs.DB("scan query", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var action, data, tasks sql.NullString
	var confirmed, cancelled bool
	err := row.Scan(&m.ID, &m.SessionID, &m.Text, &m.FromUser,
		&action, &data, &confirmed, &cancelled, &tasks, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.DB("scan message", err)
	}
	if action.Valid {
		m.Confirmation = &Confirmation{
			Action:    action.String,
			Confirmed: confirmed,
			Cancelled: cancelled,
		}
		if data.Valid {
			m.Confirmation.Data = json.RawMessage(data.String)
		}
	}
	if tasks.Valid {
		m.Tasks = json.RawMessage(tasks.String)
	}
	return &m, nil
}

// deriveTitle turns the first user message into a session title.
func deriveTitle(text string) string {
	const maxLen = 48
	title := text
	for i, r := range title {
		if r == '\n' {
			title = title[:i]
			break
		}
	}
	if runes := []rune(title); len(runes) > maxLen {
		title = string(runes[:maxLen]) + "…"
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}
