package task

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

// Store is the SQLite-backed task store. All reads exclude soft-deleted
// rows; mutations verify the caller owns the task.
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
		return nil, fmt.Errorf("migrate tasks: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		recurrence TEXT NOT NULL DEFAULT '{"kind":"none"}',
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_date ON tasks(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, deleted);

	CREATE TABLE IF NOT EXISTS subtasks (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		title TEXT NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		order_index INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id, order_index);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a task after normalizing its window. A non-deleted
// task always leaves here with a well-formed date and start < end.
func (s *Store) Create(ctx context.Context, t *Task) (*Task, error) {
	if t.UserID == "" {
		return nil, errs.Invalid("userId", "required")
	}
	if t.Title == "" {
		return nil, errs.Invalid("title", "required")
	}

	win, err := NormalizeWindow(t.Date, t.StartTime, t.EndTime, time.Now())
	if err != nil {
		return nil, err
	}
	t.Date, t.StartTime, t.EndTime = win.Date, win.Start, win.End

	id, _ := uuid.NewV7()
	t.ID = id.String()
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	tags, _ := json.Marshal(t.Tags)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, description, date, start_time, end_time,
		                   tags, recurrence, completed, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)
	`, t.ID, t.UserID, t.Title, t.Description, t.Date, t.StartTime, t.EndTime,
		string(tags), string(t.Recurrence.Encode()), t.Completed, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, errs.DB("insert task", err)
	}

	for i := range t.Subtasks {
		st := &t.Subtasks[i]
		st.TaskID = t.ID
		if err := s.insertSubtask(ctx, st); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("task created", "task", t.ID, "user", t.UserID, "date", t.Date)
	return t, nil
}

const taskColumns = `id, user_id, title, description, date, start_time, end_time,
	tags, recurrence, completed, deleted, created_at, updated_at`

// GetByID fetches a task with its subtasks. Soft-deleted tasks read as
// absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND deleted = FALSE`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSubtasks(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListByUser returns all live tasks for a user, subtasks included,
// ordered by date then start time.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*Task, error) {
	return s.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND deleted = FALSE
		ORDER BY date ASC, start_time ASC
	`, userID)
}

// ListByUserDateRange returns live tasks within [start, end] inclusive,
// both as YYYY-MM-DD.
func (s *Store) ListByUserDateRange(ctx context.Context, userID, start, end string) ([]*Task, error) {
	return s.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND deleted = FALSE AND date >= ? AND date <= ?
		ORDER BY date ASC, start_time ASC
	`, userID, start, end)
}

// ListByUserAndDate returns live tasks for one calendar day.
func (s *Store) ListByUserAndDate(ctx context.Context, userID, date string) ([]*Task, error) {
	return s.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE user_id = ? AND deleted = FALSE AND date = ?
		ORDER BY start_time ASC
	`, userID, date)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.DB("list tasks", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.DB("list tasks", err)
	}

	for _, t := range tasks {
		if err := s.loadSubtasks(ctx, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// Update applies a partial patch to a task owned by userID. Timing
// fields re-normalize as a unit against the stored values.
func (s *Store) Update(ctx context.Context, userID, id string, p Patch) (*Task, error) {
	t, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Tags != nil {
		t.Tags = *p.Tags
	}
	if p.Recurrence != nil {
		t.Recurrence = *p.Recurrence
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}

	if p.Date != nil || p.StartTime != nil || p.EndTime != nil {
		date, start, end := t.Date, t.StartTime, t.EndTime
		if p.Date != nil {
			date = *p.Date
		}
		if p.StartTime != nil {
			start = *p.StartTime
		}
		if p.EndTime != nil {
			end = *p.EndTime
		}
		win, err := NormalizeWindow(date, start, end, time.Now())
		if err != nil {
			return nil, err
		}
		t.Date, t.StartTime, t.EndTime = win.Date, win.Start, win.End
	}

	t.UpdatedAt = time.Now().UTC()
	tags, _ := json.Marshal(t.Tags)
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, date = ?, start_time = ?, end_time = ?,
		    tags = ?, recurrence = ?, completed = ?, updated_at = ?
		WHERE id = ?
	`, t.Title, t.Description, t.Date, t.StartTime, t.EndTime,
		string(tags), string(t.Recurrence.Encode()), t.Completed, t.UpdatedAt, id)
	if err != nil {
		return nil, errs.DB("update task", err)
	}

	return t, nil
}

// SoftDelete flags a task deleted. Subtask rows stay in place; the
// cascade only fires on hard deletes, and reads join through the task's
// deleted flag anyway.
func (s *Store) SoftDelete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET deleted = TRUE, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	return errs.DB("soft delete task", err)
}

// owned loads a live task and verifies ownership. Absent tasks are
// ErrNotFound; another user's task is ErrForbidden, never retried.
func (s *Store) owned(ctx context.Context, userID, id string) (*Task, error) {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, fmt.Errorf("task %s: %w", id, errs.ErrForbidden)
	}
	return t, nil
}

// CreateSubtask appends a subtask to a task owned by userID. Order
// defaults to one past the current highest index.
func (s *Store) CreateSubtask(ctx context.Context, userID, taskID string, st *Subtask) (*Subtask, error) {
	if _, err := s.owned(ctx, userID, taskID); err != nil {
		return nil, err
	}
	if st.Title == "" {
		return nil, errs.Invalid("title", "required")
	}
	st.TaskID = taskID
	if st.Order == 0 {
		var maxOrder sql.NullInt64
		_ = s.db.QueryRowContext(ctx,
			`SELECT MAX(order_index) FROM subtasks WHERE task_id = ?`, taskID).Scan(&maxOrder)
		if maxOrder.Valid {
			st.Order = int(maxOrder.Int64) + 1
		}
	}
	if err := s.insertSubtask(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) insertSubtask(ctx context.Context, st *Subtask) error {
	if st.ID == "" {
		id, _ := uuid.NewV7()
		st.ID = id.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subtasks (id, task_id, title, completed, order_index)
		VALUES (?, ?, ?, ?, ?)
	`, st.ID, st.TaskID, st.Title, st.Completed, st.Order)
	return errs.DB("insert subtask", err)
}

// UpdateSubtask applies a partial patch to a subtask of a task owned
// by userID.
func (s *Store) UpdateSubtask(ctx context.Context, userID, subtaskID string, p SubtaskPatch) (*Subtask, error) {
	st, err := s.ownedSubtask(ctx, userID, subtaskID)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		st.Title = *p.Title
	}
	if p.Completed != nil {
		st.Completed = *p.Completed
	}
	if p.Order != nil {
		st.Order = *p.Order
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE subtasks SET title = ?, completed = ?, order_index = ? WHERE id = ?
	`, st.Title, st.Completed, st.Order, st.ID)
	if err != nil {
		return nil, errs.DB("update subtask", err)
	}
	return st, nil
}

// DeleteSubtask removes a subtask of a task owned by userID.
func (s *Store) DeleteSubtask(ctx context.Context, userID, subtaskID string) error {
	if _, err := s.ownedSubtask(ctx, userID, subtaskID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM subtasks WHERE id = ?`, subtaskID)
	return errs.DB("delete subtask", err)
}

func (s *Store) ownedSubtask(ctx context.Context, userID, subtaskID string) (*Subtask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT st.id, st.task_id, st.title, st.completed, st.order_index
		FROM subtasks st JOIN tasks t ON t.id = st.task_id
		WHERE st.id = ? AND t.deleted = FALSE
	`, subtaskID)
	var st Subtask
	var owner string
	err := row.Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.DB("get subtask", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM tasks WHERE id = ?`, st.TaskID).Scan(&owner); err != nil {
		return nil, errs.DB("get subtask owner", err)
	}
	if owner != userID {
		return nil, fmt.Errorf("subtask %s: %w", subtaskID, errs.ErrForbidden)
	}
	return &st, nil
}

func (s *Store) loadSubtasks(ctx context.Context, t *Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, title, completed, order_index
		FROM subtasks WHERE task_id = ?
		ORDER BY order_index ASC
	`, t.ID)
	if err != nil {
		return errs.DB("list subtasks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st Subtask
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.Order); err != nil {
			return errs.DB("scan subtask", err)
		}
		t.Subtasks = append(t.Subtasks, st)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var tags, recurrence string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Date,
		&t.StartTime, &t.EndTime, &tags, &recurrence, &t.Completed, &t.Deleted,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.DB("scan task", err)
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		t.Tags = nil
	}
	t.Recurrence = ParseRecurrence([]byte(recurrence))
	return &t, nil
}
