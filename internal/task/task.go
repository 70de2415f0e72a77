// Package task persists tasks and subtasks and maintains the
// per-user completion streak.
package task

import (
	"encoding/json"
	"time"
)

// DateFormat is the canonical calendar-date form used everywhere a
// task date travels (storage, tool results, streak arithmetic).
const DateFormat = "2006-01-02"

// TimeFormat is the canonical time-of-day form for start/end times.
const TimeFormat = "15:04"

// Tag classifies a task for the app's focus modes. The set is closed;
// labels outside it are preserved as-is so an older client's data
// survives a round trip.
type Tag string

const (
	// TagRegular marks an ordinary routine task.
	TagRegular Tag = "regular"

	// TagGrounded marks a focus-mode task the app treats as
	// distraction-protected.
	TagGrounded Tag = "grounded"
)

// Known reports whether the tag is one of the closed set.
func (t Tag) Known() bool {
	return t == TagRegular || t == TagGrounded
}

// RecurrenceKind discriminates the recurrence union.
type RecurrenceKind string

const (
	RecurNone   RecurrenceKind = "none"
	RecurDaily  RecurrenceKind = "daily"
	RecurWeekly RecurrenceKind = "weekly"

	// RecurOpaque preserves a recurrence payload this build does not
	// understand. Raw carries the original JSON untouched.
	RecurOpaque RecurrenceKind = "opaque"
)

// Recurrence is a tagged union over the known recurrence shapes.
type Recurrence struct {
	Kind RecurrenceKind `json:"kind"`

	// Until bounds daily/weekly recurrence, YYYY-MM-DD. Nil = unbounded.
	Until *string `json:"until,omitempty"`

	// Days lists the weekdays for weekly recurrence.
	Days []time.Weekday `json:"days,omitempty"`

	// Raw is the original payload for RecurOpaque.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// ParseRecurrence decodes a stored recurrence payload. Unknown shapes
// come back as RecurOpaque rather than an error; recurrence data is
// advisory and must never block loading a task.
func ParseRecurrence(data []byte) Recurrence {
	if len(data) == 0 || string(data) == "null" {
		return Recurrence{Kind: RecurNone}
	}
	var r Recurrence
	if err := json.Unmarshal(data, &r); err != nil || r.Kind == "" {
		return Recurrence{Kind: RecurOpaque, Raw: append(json.RawMessage(nil), data...)}
	}
	switch r.Kind {
	case RecurNone, RecurDaily, RecurWeekly:
		return r
	default:
		return Recurrence{Kind: RecurOpaque, Raw: append(json.RawMessage(nil), data...)}
	}
}

// Encode renders the recurrence for storage. Opaque payloads round-trip
// byte-for-byte.
func (r Recurrence) Encode() []byte {
	if r.Kind == RecurOpaque && len(r.Raw) > 0 {
		return r.Raw
	}
	if r.Kind == "" {
		r.Kind = RecurNone
	}
	data, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"kind":"none"}`)
	}
	return data
}

// Task is a scheduled item owned by exactly one user.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Date        string     `json:"date"`      // YYYY-MM-DD
	StartTime   string     `json:"startTime"` // HH:MM
	EndTime     string     `json:"endTime"`   // HH:MM
	Tags        []Tag      `json:"tags,omitempty"`
	Recurrence  Recurrence `json:"recurrence"`
	Completed   bool       `json:"isCompleted"`
	Deleted     bool       `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Subtasks    []Subtask  `json:"subtasks,omitempty"`
}

// Subtask belongs to exactly one task and cascade-deletes with it.
// Order indices determine display order but need not be contiguous.
type Subtask struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	Title     string `json:"title"`
	Completed bool   `json:"isCompleted"`
	Order     int    `json:"order"`
}

// Patch carries partial task updates. Nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	Date        *string
	StartTime   *string
	EndTime     *string
	Tags        *[]Tag
	Recurrence  *Recurrence
	Completed   *bool
}

// SubtaskPatch carries partial subtask updates.
type SubtaskPatch struct {
	Title     *string
	Completed *bool
	Order     *int
}
