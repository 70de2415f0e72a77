package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/daybreak-app/daybreak/internal/chat"
	"github.com/daybreak-app/daybreak/internal/llm"
	"github.com/daybreak-app/daybreak/internal/task"
)

func newTestStores(t *testing.T) (*task.Store, *chat.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	tasks, err := task.NewStore(db, nil)
	if err != nil {
		t.Fatalf("task store: %v", err)
	}
	chats, err := chat.NewStore(db, nil)
	if err != nil {
		t.Fatalf("chat store: %v", err)
	}
	return tasks, chats
}

func toolCall(id, name string, args map[string]any) llm.ToolCall {
	tc := llm.ToolCall{ID: id}
	tc.Function.Name = name
	tc.Function.Arguments = args
	return tc
}

func seedTask(t *testing.T, tasks *task.Store, userID, title, date string, completed bool) *task.Task {
	t.Helper()
	created, err := tasks.Create(context.Background(), &task.Task{
		UserID: userID, Title: title, Date: date, Completed: completed,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return created
}

func TestSearchTasksByDate(t *testing.T) {
	tasks, chats := newTestStores(t)
	seedTask(t, tasks, "u1", "Dentist", "2026-04-10", false)
	seedTask(t, tasks, "u1", "Gym", "2026-04-11", false)

	exec := NewExecutor("u1", tasks, chats, nil)
	result, p := exec.Execute(context.Background(), toolCall("c1", "search_tasks", map[string]any{
		"date": "2026-04-10",
	}))
	if p != nil {
		t.Fatal("search returned a proposal")
	}

	var payload struct {
		Tasks []SearchResult `json:"tasks"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if payload.Count != 1 || payload.Tasks[0].Title != "Dentist" {
		t.Errorf("got %+v", payload)
	}
	if len(exec.LastSearch()) != 1 {
		t.Errorf("LastSearch: got %d results", len(exec.LastSearch()))
	}
}

func TestSearchTasksQueryIsCaseInsensitive(t *testing.T) {
	tasks, chats := newTestStores(t)
	seedTask(t, tasks, "u1", "Call the DENTIST", "2026-04-10", false)
	seedTask(t, tasks, "u1", "Groceries", "2026-04-10", false)

	exec := NewExecutor("u1", tasks, chats, nil)
	result, _ := exec.Execute(context.Background(), toolCall("c1", "search_tasks", map[string]any{
		"query": "dentist",
	}))

	if !strings.Contains(result, "Call the DENTIST") {
		t.Errorf("query miss: %s", result)
	}
	if strings.Contains(result, "Groceries") {
		t.Errorf("over-broad match: %s", result)
	}
}

func TestSearchTasksRecordsRecentQuery(t *testing.T) {
	tasks, chats := newTestStores(t)
	exec := NewExecutor("u1", tasks, chats, nil)

	exec.Execute(context.Background(), toolCall("c1", "search_tasks", map[string]any{
		"query": "dentist",
	}))

	queries, err := chats.RecentQueries(context.Background(), "u1")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(queries) != 1 || queries[0] != "dentist" {
		t.Errorf("got %v", queries)
	}
}

func TestSearchTasksScopedToUser(t *testing.T) {
	tasks, chats := newTestStores(t)
	seedTask(t, tasks, "u2", "Someone else's secret", "2026-04-10", false)

	exec := NewExecutor("u1", tasks, chats, nil)
	result, _ := exec.Execute(context.Background(), toolCall("c1", "search_tasks", map[string]any{}))

	if strings.Contains(result, "secret") {
		t.Errorf("cross-user leak: %s", result)
	}
}

func TestSearchTasksCapsResults(t *testing.T) {
	tasks, chats := newTestStores(t)
	for i := 0; i < searchLimit+5; i++ {
		seedTask(t, tasks, "u1", "Task", "2026-04-10", false)
	}

	exec := NewExecutor("u1", tasks, chats, nil)
	result, _ := exec.Execute(context.Background(), toolCall("c1", "search_tasks", map[string]any{}))

	var payload struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Count != searchLimit {
		t.Errorf("count: got %d, want %d", payload.Count, searchLimit)
	}
}

func TestProposeActionCapturesProposal(t *testing.T) {
	tasks, chats := newTestStores(t)
	exec := NewExecutor("u1", tasks, chats, nil)

	result, p := exec.Execute(context.Background(), toolCall("c1", "propose_action", map[string]any{
		"action": "create_task",
		"data":   map[string]any{"title": "Water plants", "date": "2026-04-10"},
	}))
	if p == nil {
		t.Fatal("no proposal captured")
	}
	if p.Action != ActionCreateTask {
		t.Errorf("action: got %q", p.Action)
	}
	if !strings.Contains(result, "proposal_pending") {
		t.Errorf("result envelope: %s", result)
	}

	var data map[string]any
	if err := json.Unmarshal(p.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["title"] != "Water plants" {
		t.Errorf("data: %v", data)
	}
}

func TestProposeActionNormalizesSnakeCase(t *testing.T) {
	tasks, chats := newTestStores(t)
	exec := NewExecutor("u1", tasks, chats, nil)

	_, p := exec.Execute(context.Background(), toolCall("c1", "propose_action", map[string]any{
		"action": "update_task",
		"data": map[string]any{
			"task_id":      "t-1",
			"start_time":   "14:00",
			"end_time":     "15:00",
			"is_completed": true,
		},
	}))
	if p == nil {
		t.Fatal("no proposal captured")
	}

	var data map[string]any
	if err := json.Unmarshal(p.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"taskId", "startTime", "endTime", "isCompleted"} {
		if _, ok := data[key]; !ok {
			t.Errorf("missing canonical key %q in %v", key, data)
		}
	}
	for _, key := range []string{"task_id", "start_time", "end_time", "is_completed"} {
		if _, ok := data[key]; ok {
			t.Errorf("snake_case key %q survived: %v", key, data)
		}
	}
}

func TestProposeActionRejectsUnknownAction(t *testing.T) {
	tasks, chats := newTestStores(t)
	exec := NewExecutor("u1", tasks, chats, nil)

	result, p := exec.Execute(context.Background(), toolCall("c1", "propose_action", map[string]any{
		"action": "drop_database",
		"data":   map[string]any{},
	}))
	if p != nil {
		t.Fatal("invalid action produced a proposal")
	}
	if !isToolError(result) {
		t.Errorf("expected tool error, got %s", result)
	}
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	tasks, chats := newTestStores(t)
	exec := NewExecutor("u1", tasks, chats, nil)

	result, p := exec.Execute(context.Background(), toolCall("c1", "launch_missiles", nil))
	if p != nil {
		t.Fatal("unknown tool produced a proposal")
	}
	if !isToolError(result) {
		t.Errorf("expected tool error, got %s", result)
	}
}
