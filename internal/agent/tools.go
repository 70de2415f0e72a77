// Package agent implements the tool-calling loop between chat input
// and the task store, including the confirmation protocol for
// model-proposed mutations.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/daybreak-app/daybreak/internal/chat"
	"github.com/daybreak-app/daybreak/internal/llm"
	"github.com/daybreak-app/daybreak/internal/task"
)

// ToolName is the closed set of tools exposed to the model. Unknown
// names from the model are answered with a structured error result,
// never dispatched.
type ToolName string

const (
	ToolSearchTasks   ToolName = "search_tasks"
	ToolProposeAction ToolName = "propose_action"
)

// Action is the closed set of mutations the model may propose.
type Action string

const (
	ActionCreateTask    Action = "create_task"
	ActionUpdateTask    Action = "update_task"
	ActionDeleteTask    Action = "delete_task"
	ActionCreateSubtask Action = "create_subtask"
)

// ValidAction reports whether s names a supported action.
func ValidAction(s string) bool {
	switch Action(s) {
	case ActionCreateTask, ActionUpdateTask, ActionDeleteTask, ActionCreateSubtask:
		return true
	}
	return false
}

// Proposal is a not-yet-executed task mutation captured from a
// propose_action call, awaiting explicit user confirmation.
type Proposal struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// SearchResult is the simplified task record returned to the model.
type SearchResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	Description string `json:"description,omitempty"`
	IsCompleted bool   `json:"isCompleted"`
}

// searchLimit caps how many records a search feeds back to the model.
const searchLimit = 10

// Executor binds the two tools to a single authenticated user so the
// model can never address another user's data.
type Executor struct {
	userID string
	tasks  *task.Store
	chats  *chat.Store
	logger *slog.Logger

	// lastSearch holds the most recent successful search results so
	// the caller can attach them to the assistant message.
	lastSearch []SearchResult
}

// NewExecutor creates an executor for one user. chats may be nil;
// recent-query recording is then skipped.
func NewExecutor(userID string, tasks *task.Store, chats *chat.Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{userID: userID, tasks: tasks, chats: chats, logger: logger}
}

// LastSearch returns the results of the most recent successful
// search_tasks call in this executor's lifetime, or nil.
func (e *Executor) LastSearch() []SearchResult {
	return e.lastSearch
}

// Schemas returns the tool definitions in the wire shape the model
// expects.
func Schemas() []map[string]any {
	return []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name": string(ToolSearchTasks),
				"description": "Search the user's tasks. Provide a date range, a single date, " +
					"a free-text query, or any combination. Always search before proposing " +
					"changes to existing tasks.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Free text matched against task titles and descriptions (case-insensitive)",
						},
						"date": map[string]any{
							"type":        "string",
							"description": "A single day, YYYY-MM-DD",
						},
						"startDate": map[string]any{
							"type":        "string",
							"description": "Range start, YYYY-MM-DD (use with endDate)",
						},
						"endDate": map[string]any{
							"type":        "string",
							"description": "Range end, YYYY-MM-DD (use with startDate)",
						},
					},
				},
			},
		},
		{
			"type": "function",
			"function": map[string]any{
				"name": string(ToolProposeAction),
				"description": "Propose a task change for the user to confirm. Nothing is " +
					"executed until the user explicitly confirms. Use exactly one proposal " +
					"per conversation turn.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action": map[string]any{
							"type":        "string",
							"enum":        []string{string(ActionCreateTask), string(ActionUpdateTask), string(ActionDeleteTask), string(ActionCreateSubtask)},
							"description": "The kind of change to propose",
						},
						"data": map[string]any{
							"type":        "object",
							"description": "Task fields for the change. For updates and deletes include the task id from search_tasks.",
						},
					},
					"required": []string{"action", "data"},
				},
			},
		},
	}
}

// Execute dispatches one tool call. The returned string is the tool
// result fed back to the model; it is always well-formed JSON, with
// internal failures captured as an error field so the model can react
// gracefully. A non-nil Proposal is returned only for a valid
// propose_action call.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) (string, *Proposal) {
	switch ToolName(call.Function.Name) {
	case ToolSearchTasks:
		return e.searchTasks(ctx, call.Function.Arguments), nil
	case ToolProposeAction:
		return e.proposeAction(call.Function.Arguments)
	default:
		e.logger.Warn("unsupported tool requested", "tool", call.Function.Name)
		return toolError(fmt.Sprintf("unsupported tool %q", call.Function.Name)), nil
	}
}

func (e *Executor) searchTasks(ctx context.Context, args map[string]any) string {
	query := stringArg(args, "query")
	date := stringArg(args, "date")
	startDate := stringArg(args, "startDate", "start_date")
	endDate := stringArg(args, "endDate", "end_date")

	var (
		tasks []*task.Task
		err   error
	)
	switch {
	case startDate != "" && endDate != "":
		tasks, err = e.tasks.ListByUserDateRange(ctx, e.userID, startDate, endDate)
	default:
		tasks, err = e.tasks.ListByUser(ctx, e.userID)
	}
	if err != nil {
		e.logger.Error("task search failed", "user", e.userID, "error", err)
		return toolError("task search failed, try again")
	}

	var results []SearchResult
	for _, t := range tasks {
		if date != "" && t.Date != date {
			continue
		}
		if query != "" && !matchesQuery(t, query) {
			continue
		}
		results = append(results, SearchResult{
			ID:          t.ID,
			Title:       t.Title,
			Date:        t.Date,
			StartTime:   t.StartTime,
			Description: t.Description,
			IsCompleted: t.Completed,
		})
		if len(results) >= searchLimit {
			break
		}
	}

	if query != "" && e.chats != nil {
		if err := e.chats.RememberQuery(ctx, e.userID, query); err != nil {
			e.logger.Warn("recent query not recorded", "error", err)
		}
	}

	e.lastSearch = results
	payload, _ := json.Marshal(map[string]any{
		"tasks": results,
		"count": len(results),
	})
	return string(payload)
}

func (e *Executor) proposeAction(args map[string]any) (string, *Proposal) {
	action := stringArg(args, "action")
	if !ValidAction(action) {
		return toolError(fmt.Sprintf("unsupported action %q", action)), nil
	}

	data, ok := args["data"].(map[string]any)
	if !ok {
		return toolError("data must be an object"), nil
	}
	normalizeFieldAliases(data)

	raw, err := json.Marshal(data)
	if err != nil {
		return toolError("data not serializable"), nil
	}

	p := &Proposal{Action: Action(action), Data: raw}
	envelope, _ := json.Marshal(map[string]any{
		"status": "proposal_pending",
		"action": action,
		"data":   data,
	})
	return string(envelope), p
}

// normalizeFieldAliases maps snake_case field names the model sometimes
// emits onto the canonical camelCase contract. Shape normalization
// only; no validation happens here.
func normalizeFieldAliases(data map[string]any) {
	aliases := map[string]string{
		"start_time":   "startTime",
		"end_time":     "endTime",
		"is_completed": "isCompleted",
		"task_id":      "taskId",
	}
	for from, to := range aliases {
		if v, ok := data[from]; ok {
			if _, exists := data[to]; !exists {
				data[to] = v
			}
			delete(data, from)
		}
	}
}

func matchesQuery(t *task.Task, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(t.Title), q) ||
		strings.Contains(strings.ToLower(t.Description), q)
}

// stringArg reads the first present string argument among the given
// keys.
func stringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func toolError(msg string) string {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return string(payload)
}

// currentDate formats now for the system prompt.
func currentDate(now time.Time) string {
	return now.Format("Monday, January 2, 2006 15:04")
}
