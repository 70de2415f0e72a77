package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIChatDecodesToolCalls(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model: %q", req.Model)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id":      "resp-1",
			"model":   "test-model",
			"created": 1700000000,
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call-1",
						"type": "function",
						"function": map[string]any{
							"name":      "search_tasks",
							"arguments": `{"date":"2026-04-10"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-test", nil)
	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header: %q", gotAuth)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls: %d", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call-1" || tc.Function.Name != "search_tasks" {
		t.Errorf("tool call: %+v", tc)
	}
	if tc.Function.Arguments["date"] != "2026-04-10" {
		t.Errorf("arguments not decoded: %v", tc.Function.Arguments)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("usage: %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOpenAIChatMalformedArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "resp-1",
			"model": "m",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id": "call-1",
						"function": map[string]any{
							"name":      "propose_action",
							"arguments": `{"action": create_task}`,
						},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", nil)
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})

	var mtc *MalformedToolCallError
	if !errors.As(err, &mtc) {
		t.Fatalf("got %v, want MalformedToolCallError", err)
	}
	if mtc.Tool != "propose_action" {
		t.Errorf("tool: %q", mtc.Tool)
	}
}

func TestOpenAIChatRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "", nil)
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited", err)
	}
}

func TestToWireEncodesArgumentsAsString(t *testing.T) {
	tc := ToolCall{ID: "c1"}
	tc.Function.Name = "search_tasks"
	tc.Function.Arguments = map[string]any{"query": "dentist"}

	wire := toWire([]Message{{Role: "assistant", ToolCalls: []ToolCall{tc}}})
	if len(wire) != 1 || len(wire[0].ToolCalls) != 1 {
		t.Fatalf("wire: %+v", wire)
	}
	wtc := wire[0].ToolCalls[0]
	if wtc.Type != "function" {
		t.Errorf("type: %q", wtc.Type)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(wtc.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not a JSON string: %v", err)
	}
	if args["query"] != "dentist" {
		t.Errorf("args: %v", args)
	}
}
