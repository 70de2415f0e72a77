package task

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/daybreak-app/daybreak/internal/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func mustCreate(t *testing.T, s *Store, task *Task) *Task {
	t.Helper()
	created, err := s.Create(context.Background(), task)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return created
}

func TestCreateNormalizesWindow(t *testing.T) {
	s := newTestStore(t)

	created := mustCreate(t, s, &Task{
		UserID: "u1",
		Title:  "Dentist",
		Date:   "2026-04-01",
	})

	if created.ID == "" {
		t.Error("expected generated id")
	}
	if created.StartTime != "09:00" || created.EndTime != "10:00" {
		t.Errorf("window: got %s-%s", created.StartTime, created.EndTime)
	}

	got, err := s.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Dentist" || got.Date != "2026-04-01" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestCreateRequiresTitleAndUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, &Task{UserID: "u1"}); err == nil {
		t.Error("expected error for missing title")
	}
	if _, err := s.Create(ctx, &Task{Title: "x"}); err == nil {
		t.Error("expected error for missing user")
	}
}

func TestCreateWithSubtasks(t *testing.T) {
	s := newTestStore(t)

	created := mustCreate(t, s, &Task{
		UserID: "u1",
		Title:  "Pack for trip",
		Date:   "2026-04-01",
		Subtasks: []Subtask{
			{Title: "Passport", Order: 0},
			{Title: "Chargers", Order: 1},
		},
	})

	got, err := s.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Subtasks) != 2 {
		t.Fatalf("subtasks: got %d, want 2", len(got.Subtasks))
	}
	if got.Subtasks[0].Title != "Passport" || got.Subtasks[1].Title != "Chargers" {
		t.Errorf("subtask order wrong: %+v", got.Subtasks)
	}
}

func TestOwnershipSeparatesNotFoundFromForbidden(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, &Task{UserID: "u1", Title: "Mine", Date: "2026-04-01"})

	_, err := s.Update(ctx, "u2", created.ID, Patch{})
	if !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("other user's update: got %v, want ErrForbidden", err)
	}

	_, err = s.Update(ctx, "u1", "nope", Patch{})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing task: got %v, want ErrNotFound", err)
	}
}

func TestUpdateRetimesAsUnit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, &Task{
		UserID: "u1", Title: "Gym", Date: "2026-04-01",
		StartTime: "18:00", EndTime: "19:30",
	})

	// Moving only the start re-derives a valid window against the
	// stored end.
	start := "20:00"
	updated, err := s.Update(ctx, "u1", created.ID, Patch{StartTime: &start})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.StartTime != "20:00" || updated.EndTime != "21:00" {
		t.Errorf("window: got %s-%s, want 20:00-21:00", updated.StartTime, updated.EndTime)
	}
}

func TestUpdatePartialLeavesRestAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, &Task{
		UserID: "u1", Title: "Read", Description: "chapter 4",
		Date: "2026-04-01", Tags: []Tag{TagGrounded},
	})

	done := true
	updated, err := s.Update(ctx, "u1", created.ID, Patch{Completed: &done})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Completed {
		t.Error("completed not set")
	}
	if updated.Title != "Read" || updated.Description != "chapter 4" {
		t.Errorf("untouched fields changed: %+v", updated)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != TagGrounded {
		t.Errorf("tags changed: %v", updated.Tags)
	}
}

func TestSoftDeleteHidesTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, &Task{UserID: "u1", Title: "Old", Date: "2026-04-01"})

	if err := s.SoftDelete(ctx, "u1", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetByID(ctx, created.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("deleted task still readable: %v", err)
	}
	tasks, err := s.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("deleted task still listed: %d", len(tasks))
	}

	// Deleting again reads as absent, not forbidden.
	if err := s.SoftDelete(ctx, "u1", created.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestListByDateRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, date := range []string{"2026-04-01", "2026-04-02", "2026-04-05"} {
		mustCreate(t, s, &Task{UserID: "u1", Title: "t " + date, Date: date})
	}
	mustCreate(t, s, &Task{UserID: "u2", Title: "other user", Date: "2026-04-02"})

	tasks, err := s.ListByUserDateRange(ctx, "u1", "2026-04-01", "2026-04-02")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("range: got %d tasks, want 2", len(tasks))
	}

	day, err := s.ListByUserAndDate(ctx, "u1", "2026-04-05")
	if err != nil {
		t.Fatalf("day: %v", err)
	}
	if len(day) != 1 || day[0].Date != "2026-04-05" {
		t.Errorf("day: got %+v", day)
	}
}

func TestCreateSubtaskAppendsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, &Task{
		UserID: "u1", Title: "Move house", Date: "2026-04-01",
		Subtasks: []Subtask{{Title: "Boxes", Order: 0}, {Title: "Van", Order: 3}},
	})

	st, err := s.CreateSubtask(ctx, "u1", created.ID, &Subtask{Title: "Keys"})
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if st.Order != 4 {
		t.Errorf("order: got %d, want 4", st.Order)
	}

	if _, err := s.CreateSubtask(ctx, "u2", created.ID, &Subtask{Title: "Sneak"}); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("other user's subtask: got %v, want ErrForbidden", err)
	}
}

func TestUpdateAndDeleteSubtask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, &Task{
		UserID: "u1", Title: "Project", Date: "2026-04-01",
		Subtasks: []Subtask{{Title: "Draft"}},
	})
	stID := created.Subtasks[0].ID

	done := true
	updated, err := s.UpdateSubtask(ctx, "u1", stID, SubtaskPatch{Completed: &done})
	if err != nil {
		t.Fatalf("update subtask: %v", err)
	}
	if !updated.Completed {
		t.Error("subtask completed not set")
	}

	if _, err := s.UpdateSubtask(ctx, "u2", stID, SubtaskPatch{}); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("other user's subtask update: got %v, want ErrForbidden", err)
	}

	if err := s.DeleteSubtask(ctx, "u1", stID); err != nil {
		t.Fatalf("delete subtask: %v", err)
	}
	got, err := s.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Subtasks) != 0 {
		t.Errorf("subtask still present: %+v", got.Subtasks)
	}
}

func TestOpaqueRecurrenceSurvivesStorage(t *testing.T) {
	s := newTestStore(t)
	raw := []byte(`{"kind":"biweekly","anchor":"2026-04-01"}`)

	created := mustCreate(t, s, &Task{
		UserID: "u1", Title: "Payday", Date: "2026-04-01",
		Recurrence: Recurrence{Kind: RecurOpaque, Raw: raw},
	})

	got, err := s.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Recurrence.Kind != RecurOpaque {
		t.Fatalf("kind: got %q", got.Recurrence.Kind)
	}
	if string(got.Recurrence.Raw) != string(raw) {
		t.Errorf("raw payload changed: %s", got.Recurrence.Raw)
	}
}
