package user

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

func TestUpsertCreatesThenRefreshes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, "auth-1", "a@example.com", "Alex")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.ID == "" {
		t.Error("expected generated id")
	}

	second, err := s.Upsert(ctx, "auth-1", "new@example.com", "Alex R")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert changed identity: %s vs %s", second.ID, first.ID)
	}
	if second.Email != "new@example.com" || second.DisplayName != "Alex R" {
		t.Errorf("profile not refreshed: %+v", second)
	}
}

func TestUpsertPreservesStreak(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.Upsert(ctx, "auth-1", "a@example.com", "Alex")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	d := "2026-04-10"
	if err := s.UpdateStreak(ctx, u.ID, 4, 9, &d); err != nil {
		t.Fatalf("update streak: %v", err)
	}

	again, err := s.Upsert(ctx, "auth-1", "a@example.com", "Alex")
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if again.CurrentStreak != 4 || again.LongestStreak != 9 {
		t.Errorf("streak lost on upsert: %+v", again)
	}
	if again.LastStreakDate == nil || *again.LastStreakDate != d {
		t.Errorf("lastStreakDate lost: %v", again.LastStreakDate)
	}
}

func TestUpdateStreakClampsLongest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.Upsert(ctx, "auth-1", "", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	d := "2026-04-10"
	if err := s.UpdateStreak(ctx, u.ID, 8, 3, &d); err != nil {
		t.Fatalf("update streak: %v", err)
	}

	got, err := s.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LongestStreak != 8 {
		t.Errorf("longest not clamped up: got %d, want 8", got.LongestStreak)
	}
}

func TestUpdateStreakClearsLastDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.Upsert(ctx, "auth-1", "", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	d := "2026-04-10"
	if err := s.UpdateStreak(ctx, u.ID, 1, 1, &d); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.UpdateStreak(ctx, u.ID, 0, 1, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}

	got, err := s.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastStreakDate != nil {
		t.Errorf("lastStreakDate not cleared: %v", got.LastStreakDate)
	}
}

func TestGetUnknownUser(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := s.UpdateStreak(context.Background(), "missing", 1, 1, nil); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("update: got %v, want ErrNotFound", err)
	}
}
