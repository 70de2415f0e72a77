package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/daybreak-app/daybreak/internal/chat"
	"github.com/daybreak-app/daybreak/internal/errs"
	"github.com/daybreak-app/daybreak/internal/task"
)

// ConfirmObserver receives confirmation telemetry.
type ConfirmObserver interface {
	RecordResolution(action string, confirmed bool)
	RecordStreakRecalc(err error)
}

// ConfirmationHandler bridges a proposal captured mid-conversation to
// its eventual, explicit, one-time execution.
type ConfirmationHandler struct {
	chats    *chat.Store
	tasks    *task.Store
	streaks  *task.Recalculator
	logger   *slog.Logger
	observer ConfirmObserver
}

// NewConfirmationHandler wires the handler. observer may be nil.
func NewConfirmationHandler(chats *chat.Store, tasks *task.Store, streaks *task.Recalculator, logger *slog.Logger, observer ConfirmObserver) *ConfirmationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmationHandler{chats: chats, tasks: tasks, streaks: streaks, logger: logger, observer: observer}
}

// Record attaches the proposal to the identified chat message without
// executing anything. Re-recording over the same message replaces the
// stored proposal.
func (h *ConfirmationHandler) Record(ctx context.Context, messageID string, p *Proposal) error {
	return h.chats.SetConfirmation(ctx, messageID, string(p.Action), p.Data)
}

// ResolveResult reports what a resolution did.
type ResolveResult struct {
	Confirmed bool       `json:"confirmed"`
	Action    Action     `json:"action"`
	Task      *task.Task `json:"task,omitempty"`
}

// Resolve settles the proposal stored on a message. An action/data
// pair supplied by the caller takes precedence over what was stored
// (clients may round-trip the original proposal instead of relying on
// the server-side copy). The session owning the message must belong
// to userID.
//
// confirm=false marks the proposal cancelled and mutates nothing.
// confirm=true marks it confirmed, then dispatches exactly one store
// mutation. The two steps are not one transaction; a crash in between
// leaves a confirmed-but-unexecuted proposal, which is why the
// dispatch failure below logs at Error for monitoring.
func (h *ConfirmationHandler) Resolve(ctx context.Context, userID, messageID string, confirm bool, action string, data json.RawMessage) (*ResolveResult, error) {
	msg, err := h.chats.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	sess, err := h.chats.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("message %s: %w", messageID, errs.ErrForbidden)
	}
	// A proposal settles exactly once; re-resolving either way would
	// replay or resurrect the mutation.
	if msg.Confirmation != nil && (msg.Confirmation.Confirmed || msg.Confirmation.Cancelled) {
		return nil, errs.Invalid("messageId", "proposal already resolved")
	}

	// Caller-supplied proposal wins over the stored one.
	if action == "" && msg.Confirmation != nil {
		action = msg.Confirmation.Action
		if data == nil {
			data = msg.Confirmation.Data
		}
	}
	if action == "" {
		return nil, errs.Invalid("action", "no pending proposal on this message")
	}
	if !ValidAction(action) {
		return nil, errs.Invalid("action", "unsupported action "+action)
	}

	if !confirm {
		if err := h.chats.ResolveConfirmation(ctx, messageID, false); err != nil {
			return nil, err
		}
		if h.observer != nil {
			h.observer.RecordResolution(action, false)
		}
		h.logger.Info("proposal cancelled", "message", messageID, "action", action)
		return &ResolveResult{Confirmed: false, Action: Action(action)}, nil
	}

	if err := h.chats.ResolveConfirmation(ctx, messageID, true); err != nil {
		return nil, err
	}

	result, err := h.execute(ctx, userID, Action(action), data)
	if err != nil {
		// Confirmed but not executed. Operational signal, not
		// silently swallowed.
		h.logger.Error("confirmed proposal failed to execute",
			"message", messageID, "action", action, "error", err)
		return nil, err
	}
	if h.observer != nil {
		h.observer.RecordResolution(action, true)
	}
	h.logger.Info("proposal executed", "message", messageID, "action", action)
	return result, nil
}

// proposalData is the union of fields a proposal payload may carry.
type proposalData struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Date        string     `json:"date"`
	StartTime   string     `json:"startTime"`
	EndTime     string     `json:"endTime"`
	Tags        []task.Tag `json:"tags"`
	IsCompleted *bool      `json:"isCompleted"`
	Order       int        `json:"order"`
	Subtasks    []struct {
		Title string `json:"title"`
	} `json:"subtasks"`
}

func (h *ConfirmationHandler) execute(ctx context.Context, userID string, action Action, data json.RawMessage) (*ResolveResult, error) {
	var d proposalData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, errs.Invalid("data", "undecodable proposal payload")
		}
	}

	switch action {
	case ActionCreateTask:
		t := &task.Task{
			UserID:      userID,
			Title:       d.Title,
			Description: d.Description,
			Date:        d.Date,
			StartTime:   d.StartTime,
			EndTime:     d.EndTime,
			Tags:        d.Tags,
		}
		for _, st := range d.Subtasks {
			t.Subtasks = append(t.Subtasks, task.Subtask{Title: st.Title})
		}
		created, err := h.tasks.Create(ctx, t)
		if err != nil {
			return nil, err
		}
		return &ResolveResult{Confirmed: true, Action: action, Task: created}, nil

	case ActionUpdateTask:
		id := firstNonEmpty(d.ID, d.TaskID)
		if id == "" {
			return nil, errs.Invalid("data.id", "required for update_task")
		}
		before, err := h.tasks.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		patch := task.Patch{}
		if d.Title != "" {
			patch.Title = &d.Title
		}
		if d.Description != "" {
			patch.Description = &d.Description
		}
		if d.Date != "" {
			patch.Date = &d.Date
		}
		if d.StartTime != "" {
			patch.StartTime = &d.StartTime
		}
		if d.EndTime != "" {
			patch.EndTime = &d.EndTime
		}
		if d.Tags != nil {
			patch.Tags = &d.Tags
		}
		if d.IsCompleted != nil {
			patch.Completed = d.IsCompleted
		}

		updated, err := h.tasks.Update(ctx, userID, id, patch)
		if err != nil {
			return nil, err
		}

		// Streak recomputation fires only on the incomplete→complete
		// transition, and only best-effort.
		if !before.Completed && updated.Completed {
			rerr := h.streaks.Recalculate(ctx, userID, updated.Date)
			if h.observer != nil {
				h.observer.RecordStreakRecalc(rerr)
			}
			if rerr != nil {
				h.logger.Warn("streak recalculation failed", "user", userID, "date", updated.Date, "error", rerr)
			}
		}
		return &ResolveResult{Confirmed: true, Action: action, Task: updated}, nil

	case ActionDeleteTask:
		id := firstNonEmpty(d.ID, d.TaskID)
		if id == "" {
			return nil, errs.Invalid("data.id", "required for delete_task")
		}
		if err := h.tasks.SoftDelete(ctx, userID, id); err != nil {
			return nil, err
		}
		return &ResolveResult{Confirmed: true, Action: action}, nil

	case ActionCreateSubtask:
		id := firstNonEmpty(d.TaskID, d.ID)
		if id == "" {
			return nil, errs.Invalid("data.taskId", "required for create_subtask")
		}
		st := &task.Subtask{Title: d.Title, Order: d.Order}
		if _, err := h.tasks.CreateSubtask(ctx, userID, id, st); err != nil {
			return nil, err
		}
		parent, err := h.tasks.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return &ResolveResult{Confirmed: true, Action: action, Task: parent}, nil

	default:
		return nil, errs.Invalid("action", "unsupported action "+string(action))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
