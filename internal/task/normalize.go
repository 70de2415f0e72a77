package task

import (
	"strings"
	"time"

	"github.com/daybreak-app/daybreak/internal/errs"
)

// Defaults applied at the storage boundary when the caller (or the
// model) leaves timing fields out.
const (
	defaultStartTime = "09:00"
	defaultSpan      = time.Hour
)

// Window is a normalized (date, start, end) triple.
type Window struct {
	Date  string // YYYY-MM-DD
	Start string // HH:MM
	End   string // HH:MM
}

// NormalizeWindow decomposes lenient date/time input into a canonical
// window. Accepted per field: full ISO datetime, date-only, or bare
// time-of-day. Rules:
//
//   - a datetime in date fills both the day and, when start is empty,
//     the start time
//   - missing start defaults to a fixed time-of-day
//   - only one of start/end present derives the other from a one-hour
//     span
//   - the result always satisfies start < end
//
// now supplies the fallback date when none was given anywhere.
func NormalizeWindow(date, start, end string, now time.Time) (Window, error) {
	day, timeFromDate := splitDate(date)

	startT, err := parseClock(start)
	if err != nil {
		return Window{}, errs.Invalid("startTime", "unrecognized time "+start)
	}
	endT, err := parseClock(end)
	if err != nil {
		return Window{}, errs.Invalid("endTime", "unrecognized time "+end)
	}

	if startT == nil {
		startT = timeFromDate
	}
	if day == "" {
		day = now.Format(DateFormat)
	}
	if _, err := time.Parse(DateFormat, day); err != nil {
		return Window{}, errs.Invalid("date", "unrecognized date "+date)
	}

	switch {
	case startT == nil && endT == nil:
		s, _ := time.Parse(TimeFormat, defaultStartTime)
		startT = &s
		e := s.Add(defaultSpan)
		endT = &e
	case startT == nil:
		s := endT.Add(-defaultSpan)
		if s.Day() != endT.Day() {
			// Deriving backwards from an early end must not wrap to
			// the previous day.
			s = time.Date(endT.Year(), endT.Month(), endT.Day(), 0, 0, 0, 0, time.UTC)
		}
		startT = &s
	case endT == nil:
		e := startT.Add(defaultSpan)
		endT = &e
	}

	// Defaulting must produce a non-empty forward interval.
	if !startT.Before(*endT) {
		e := startT.Add(defaultSpan)
		endT = &e
	}
	// A span derived near midnight must not wrap to the next day;
	// clamp instead so start < end still holds as times-of-day.
	if endT.Day() != startT.Day() {
		e := time.Date(startT.Year(), startT.Month(), startT.Day(), 23, 59, 0, 0, time.UTC)
		endT = &e
		// A start at the boundary itself collapses the interval; pull
		// it back a minute so the window stays non-empty.
		if !startT.Before(*endT) {
			s := e.Add(-time.Minute)
			startT = &s
		}
	}

	return Window{
		Date:  day,
		Start: startT.Format(TimeFormat),
		End:   endT.Format(TimeFormat),
	}, nil
}

// splitDate extracts the calendar day from a date or datetime string,
// and the clock time when the input carried one.
func splitDate(s string) (string, *time.Time) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			clock := t
			return t.Format(DateFormat), &clock
		}
	}
	if t, err := time.Parse(DateFormat, s); err == nil {
		return t.Format(DateFormat), nil
	}
	// Not parseable here; let the caller's date validation reject it.
	return s, nil
}

// parseClock parses a bare time-of-day in any of the lenient forms.
// Empty input is not an error; it means "not supplied".
func parseClock(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	for _, layout := range []string{TimeFormat, "15:04:05", "3:04pm", "3:04 pm", "3pm"} {
		if t, err := time.Parse(layout, strings.ToLower(s)); err == nil {
			return &t, nil
		}
	}
	// A datetime supplied where a time was expected: keep the clock.
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errs.Invalid("time", "unrecognized "+s)
}
