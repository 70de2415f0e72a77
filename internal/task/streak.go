package task

import (
	"context"
	"log/slog"
	"time"
)

// UserStreakStore is the slice of the user store the recalculator
// needs. Defined here so tests can substitute a fake without touching
// SQLite.
type UserStreakStore interface {
	Streak(ctx context.Context, userID string) (current, longest int, lastDate *string, err error)
	SetStreak(ctx context.Context, userID string, current, longest int, lastDate *string) error
}

// Recalculator maintains the best-effort "consecutive fully-completed
// days" counter per user. It is invoked after a completion state
// change on a date; it never runs transactionally with the change
// itself.
type Recalculator struct {
	tasks  *Store
	users  UserStreakStore
	logger *slog.Logger
}

// NewRecalculator wires a recalculator over the two stores.
func NewRecalculator(tasks *Store, users UserStreakStore, logger *slog.Logger) *Recalculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recalculator{tasks: tasks, users: users, logger: logger}
}

// Recalculate recomputes the streak for a user after the completion
// state of the given date (YYYY-MM-DD) changed.
//
// Completion can toggle in either direction, so forward-increment
// alone would drift: regressing an already-counted day triggers a
// backward day-by-day recount instead.
func (r *Recalculator) Recalculate(ctx context.Context, userID, date string) error {
	tasks, err := r.tasks.ListByUserAndDate(ctx, userID, date)
	if err != nil {
		return err
	}
	// A day with zero tasks is neither a pass nor a break.
	if len(tasks) == 0 {
		return nil
	}

	current, longest, lastDate, err := r.users.Streak(ctx, userID)
	if err != nil {
		return err
	}

	if allComplete(tasks) {
		// Already counted: idempotent no-op.
		if lastDate != nil && *lastDate == date {
			return nil
		}
		if lastDate != nil && *lastDate == prevDay(date) {
			current++
		} else {
			current = 1
		}
		if current > longest {
			longest = current
		}
		d := date
		r.logger.Debug("streak advanced", "user", userID, "date", date, "current", current)
		return r.users.SetStreak(ctx, userID, current, longest, &d)
	}

	// Incomplete, and this day falls inside the counted run. Whether
	// it was the last counted day or somewhere in the middle, the run
	// is broken here: recount how many consecutive days immediately
	// before it still stand.
	if lastDate == nil || date > *lastDate {
		return nil
	}

	count := 0
	day := prevDay(date)
	for {
		dayTasks, err := r.tasks.ListByUserAndDate(ctx, userID, day)
		if err != nil {
			return err
		}
		if len(dayTasks) == 0 || !allComplete(dayTasks) {
			break
		}
		count++
		day = prevDay(day)
	}

	if count > longest {
		longest = count
	}
	var newLast *string
	if count > 0 {
		d := prevDay(date)
		newLast = &d
	}
	r.logger.Debug("streak regressed", "user", userID, "date", date, "current", count)
	return r.users.SetStreak(ctx, userID, count, longest, newLast)
}

func allComplete(tasks []*Task) bool {
	for _, t := range tasks {
		if !t.Completed {
			return false
		}
	}
	return true
}

// prevDay returns the calendar day before date. Malformed input comes
// back unchanged; the caller's date has already been validated at the
// storage boundary.
func prevDay(date string) string {
	t, err := time.Parse(DateFormat, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, -1).Format(DateFormat)
}
