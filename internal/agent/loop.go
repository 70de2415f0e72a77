package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/daybreak-app/daybreak/internal/llm"
)

// maxIterations bounds the conversation rounds with the model. The
// bound is on rounds, not wall clock; per-call timeouts belong to the
// transport.
const maxIterations = 10

// Fallback texts for the loop's degenerate terminal states.
const (
	emptyReplyFallback    = "Okay."
	maxIterationsFallback = "I couldn't finish working through that request. Could you rephrase it or break it into smaller steps?"
	confirmFallback       = "Here's what I'd like to change — should I go ahead?"
)

// Observer receives loop telemetry. The metrics package implements it;
// a nil observer disables recording.
type Observer interface {
	RecordModelCall(d time.Duration, err error)
	RecordToolCall(tool string, ok bool)
	RecordProposal(action string)
}

// Result is the terminal state of one loop invocation: either a plain
// text answer, or a text plus exactly one pending proposal.
type Result struct {
	Text     string
	Proposal *Proposal
	// Tasks carries the last search results, for display next to the
	// reply.
	Tasks []SearchResult
	// Exhausted is set when the loop hit its iteration bound without
	// an answer. Reported to the caller, never retried automatically.
	Exhausted bool
}

// Loop drives a bounded conversation with the hosted model.
type Loop struct {
	client      llm.Client
	retry       llm.RetryPolicy
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
	observer    Observer
}

// NewLoop creates the loop. observer may be nil.
func NewLoop(client llm.Client, model string, temperature float64, maxTokens int, logger *slog.Logger, observer Observer) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		client:      client,
		retry:       llm.DefaultRetryPolicy(),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
		observer:    observer,
	}
}

// Run turns one user utterance plus prior history into a Result,
// dispatching tool calls against exec. history carries prior turns in
// model form, oldest first, without a system message.
//
// Tool results are appended in the order the model requested them and
// executed sequentially; the model's reasoning depends on seeing them
// in order. The first propose_action in a round wins: it terminates
// the loop, and later propose calls in the same round are answered
// with an error result instead of silently dropped.
func (l *Loop) Run(ctx context.Context, exec *Executor, history []llm.Message, userText string) (*Result, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: BuildSystemPrompt(time.Now())})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: userText})

	l.logger.Info("agent loop started", "history", len(history), "model", l.model)

	for round := 0; round < maxIterations; round++ {
		req := llm.ChatRequest{
			Model:       l.model,
			Messages:    messages,
			Tools:       Schemas(),
			Temperature: l.temperature,
			MaxTokens:   l.maxTokens,
		}

		start := time.Now()
		resp, err := l.retry.Do(ctx, l.client, req)
		if l.observer != nil {
			l.observer.RecordModelCall(time.Since(start), err)
		}
		if err != nil {
			if errors.Is(err, llm.ErrRateLimited) {
				l.logger.Warn("model rate limited", "round", round)
				return nil, err
			}
			l.logger.Error("model call failed", "round", round, "error", err)
			return nil, fmt.Errorf("model call: %w", err)
		}

		// No tool calls: the model answered.
		if len(resp.Message.ToolCalls) == 0 {
			text := resp.Message.Content
			if text == "" {
				text = emptyReplyFallback
			}
			l.logger.Info("agent loop answered", "rounds", round+1)
			return &Result{Text: text, Tasks: exec.LastSearch()}, nil
		}

		messages = append(messages, resp.Message)

		var proposal *Proposal
		for _, call := range resp.Message.ToolCalls {
			var result string
			if proposal != nil && ToolName(call.Function.Name) == ToolProposeAction {
				// One write proposal per turn.
				result = toolError("a proposal is already pending for this turn")
			} else {
				var p *Proposal
				result, p = exec.Execute(ctx, call)
				if p != nil {
					proposal = p
					if l.observer != nil {
						l.observer.RecordProposal(string(p.Action))
					}
				}
			}
			if l.observer != nil {
				l.observer.RecordToolCall(call.Function.Name, !isToolError(result))
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}

		if proposal != nil {
			text := resp.Message.Content
			if text == "" {
				text = confirmFallback
			}
			l.logger.Info("agent loop proposing", "rounds", round+1, "action", proposal.Action)
			return &Result{Text: text, Proposal: proposal, Tasks: exec.LastSearch()}, nil
		}
	}

	l.logger.Warn("agent loop exhausted", "rounds", maxIterations)
	return &Result{Text: maxIterationsFallback, Exhausted: true, Tasks: exec.LastSearch()}, nil
}

// isToolError reports whether a tool result is the structured error
// shape produced by toolError.
func isToolError(result string) bool {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err != nil {
		return false
	}
	return probe.Error != ""
}
