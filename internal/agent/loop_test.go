package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/daybreak-app/daybreak/internal/llm"
)

// scriptedClient replays a fixed sequence of responses. The last entry
// repeats if the loop asks for more rounds than scripted.
type scriptedClient struct {
	responses []llm.ChatResponse
	errs      []error
	calls     int
	requests  []llm.ChatRequest
}

func (c *scriptedClient) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.requests = append(c.requests, req)
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	resp := c.responses[i]
	return &resp, nil
}

func textResponse(text string) llm.ChatResponse {
	return llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: text}, Done: true}
}

func toolResponse(text string, calls ...llm.ToolCall) llm.ChatResponse {
	return llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: text, ToolCalls: calls}}
}

func newTestLoop(client llm.Client) *Loop {
	return NewLoop(client, "test-model", 0.2, 256, nil, nil)
}

func TestLoopDirectAnswer(t *testing.T) {
	tasks, chats := newTestStores(t)
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("You have nothing planned.")}}

	result, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), nil, "what's on today?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != "You have nothing planned." {
		t.Errorf("text: got %q", result.Text)
	}
	if result.Proposal != nil || result.Exhausted {
		t.Errorf("unexpected result state: %+v", result)
	}
	if client.calls != 1 {
		t.Errorf("calls: got %d", client.calls)
	}
}

func TestLoopEmptyReplyFallsBack(t *testing.T) {
	tasks, chats := newTestStores(t)
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("")}}

	result, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), nil, "hi")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != emptyReplyFallback {
		t.Errorf("text: got %q", result.Text)
	}
}

func TestLoopSearchThenAnswer(t *testing.T) {
	tasks, chats := newTestStores(t)
	seedTask(t, tasks, "u1", "Dentist", "2026-04-10", false)

	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "search_tasks", map[string]any{"date": "2026-04-10"})),
		textResponse("You have the dentist at nine."),
	}}

	result, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), nil, "what's on the 10th?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != "You have the dentist at nine." {
		t.Errorf("text: got %q", result.Text)
	}
	if len(result.Tasks) != 1 || result.Tasks[0].Title != "Dentist" {
		t.Errorf("tasks: got %+v", result.Tasks)
	}

	// The second request must carry the tool result back, correlated
	// by the call id.
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "c1" {
		t.Errorf("tool result message: %+v", last)
	}
	if !strings.Contains(last.Content, "Dentist") {
		t.Errorf("tool result content: %s", last.Content)
	}
}

func TestLoopProposalTerminatesRound(t *testing.T) {
	tasks, chats := newTestStores(t)

	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("I can add that for you.",
			toolCall("c1", "propose_action", map[string]any{
				"action": "create_task",
				"data":   map[string]any{"title": "Water plants"},
			})),
	}}

	result, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), nil, "add watering the plants")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Proposal == nil || result.Proposal.Action != ActionCreateTask {
		t.Fatalf("proposal: %+v", result.Proposal)
	}
	if result.Text != "I can add that for you." {
		t.Errorf("text: got %q", result.Text)
	}
	if client.calls != 1 {
		t.Errorf("loop continued past proposal: %d calls", client.calls)
	}
}

func TestLoopProposalWithoutTextUsesFallback(t *testing.T) {
	tasks, chats := newTestStores(t)

	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "propose_action", map[string]any{
			"action": "delete_task",
			"data":   map[string]any{"id": "t-1"},
		})),
	}}

	result, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), nil, "delete it")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != confirmFallback {
		t.Errorf("text: got %q", result.Text)
	}
}

func TestLoopSecondProposalInRoundIsRefused(t *testing.T) {
	tasks, chats := newTestStores(t)

	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("two at once",
			toolCall("c1", "propose_action", map[string]any{
				"action": "create_task",
				"data":   map[string]any{"title": "First"},
			}),
			toolCall("c2", "propose_action", map[string]any{
				"action": "create_task",
				"data":   map[string]any{"title": "Second"},
			})),
	}}

	result, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), nil, "add both")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Proposal == nil {
		t.Fatal("no proposal")
	}

	var data map[string]any
	if err := json.Unmarshal(result.Proposal.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data["title"] != "First" {
		t.Errorf("first proposal should win, got %v", data)
	}
}

func TestLoopExhaustionFallback(t *testing.T) {
	tasks, chats := newTestStores(t)

	// Every round searches, never answers.
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolResponse("", toolCall("c1", "search_tasks", map[string]any{})),
	}}

	result, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), nil, "loop forever")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Exhausted {
		t.Error("exhaustion not flagged")
	}
	if result.Text != maxIterationsFallback {
		t.Errorf("text: got %q", result.Text)
	}
	if client.calls != maxIterations {
		t.Errorf("calls: got %d, want %d", client.calls, maxIterations)
	}
}

func TestLoopRateLimitSurfaces(t *testing.T) {
	tasks, chats := newTestStores(t)
	client := &scriptedClient{
		responses: []llm.ChatResponse{textResponse("unused")},
		errs:      []error{llm.ErrRateLimited},
	}

	_, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), nil, "hi")
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited", err)
	}
}

func TestLoopPrependsSystemAndHistory(t *testing.T) {
	tasks, chats := newTestStores(t)
	client := &scriptedClient{responses: []llm.ChatResponse{textResponse("ok")}}

	history := []llm.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	_, err := newTestLoop(client).Run(context.Background(),
		NewExecutor("u1", tasks, chats, nil), history, "new question")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	msgs := client.requests[0].Messages
	if len(msgs) != 4 {
		t.Fatalf("messages: got %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first message role: %q", msgs[0].Role)
	}
	if msgs[1].Content != "earlier question" || msgs[3].Content != "new question" {
		t.Errorf("ordering wrong: %+v", msgs)
	}
}
