package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daybreak-app/daybreak/internal/agent"
	"github.com/daybreak-app/daybreak/internal/auth"
	"github.com/daybreak-app/daybreak/internal/chat"
	"github.com/daybreak-app/daybreak/internal/errs"
	"github.com/daybreak-app/daybreak/internal/llm"
)

// User-facing texts for model failures. Provider rate limits and
// exhausted retries fail the request with an envelope; other loop
// failures degrade to an inserted assistant message so the
// conversation survives.
const (
	modelFailureText = "I'm having trouble thinking right now. Please try that again in a moment."
	rateLimitedText  = "I'm getting a lot of requests right now. Give me a minute and try again."
)

type chatMessageRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatMessageResponse struct {
	UserMessage *chat.Message `json:"userMessage"`
	AIResponse  *chat.Message `json:"aiResponse"`
}

// handleChatMessage runs one agent loop turn for the user's message.
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	ctx := r.Context()

	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errs.Invalid("body", "undecodable JSON"))
		return
	}
	if req.Message == "" {
		writeError(w, s.logger, errs.Invalid("message", "required"))
		return
	}

	// No session yet: open one. The store deactivates any others.
	if req.SessionID == "" {
		sess, err := s.chats.CreateSession(ctx, u.UserID, "")
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		req.SessionID = sess.ID
	} else {
		sess, err := s.chats.GetSession(ctx, req.SessionID)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		if sess.UserID != u.UserID {
			writeError(w, s.logger, fmt.Errorf("session %s: %w", req.SessionID, errs.ErrForbidden))
			return
		}
	}

	history, err := s.chats.ListMessages(ctx, req.SessionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	userMsg, err := s.chats.AddMessage(ctx, &chat.Message{
		SessionID: req.SessionID,
		Text:      req.Message,
		FromUser:  true,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	exec := agent.NewExecutor(u.UserID, s.tasks, s.chats, s.logger)
	result, err := s.loop.Run(ctx, exec, toModelHistory(history), req.Message)
	if err != nil {
		// Rate limits and exhausted malformed-generation retries fail
		// the request with an envelope the client can act on. Anything
		// else degrades to an in-conversation apology.
		if errors.Is(err, llm.ErrRateLimited) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Code:    "MODEL_RATE_LIMITED",
				Message: rateLimitedText,
			})
			return
		}
		var mtc *llm.MalformedToolCallError
		if errors.As(err, &mtc) {
			writeError(w, s.logger, err)
			return
		}
		aiMsg, insertErr := s.insertFailureMessage(r, req.SessionID, err)
		if insertErr != nil {
			writeError(w, s.logger, insertErr)
			return
		}
		writeJSON(w, http.StatusOK, chatMessageResponse{UserMessage: userMsg, AIResponse: aiMsg})
		return
	}

	aiMsg := &chat.Message{
		SessionID: req.SessionID,
		Text:      result.Text,
		FromUser:  false,
	}
	if len(result.Tasks) > 0 {
		if tasksJSON, err := json.Marshal(result.Tasks); err == nil {
			aiMsg.Tasks = tasksJSON
		}
	}
	aiMsg, err = s.chats.AddMessage(ctx, aiMsg)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if result.Proposal != nil {
		if err := s.confirmer.Record(ctx, aiMsg.ID, result.Proposal); err != nil {
			writeError(w, s.logger, err)
			return
		}
		aiMsg.Confirmation = &chat.Confirmation{
			Action: string(result.Proposal.Action),
			Data:   result.Proposal.Data,
		}
	}

	writeJSON(w, http.StatusOK, chatMessageResponse{UserMessage: userMsg, AIResponse: aiMsg})
}

// insertFailureMessage writes the conversational degradation for a
// failed loop run into the session.
func (s *Server) insertFailureMessage(r *http.Request, sessionID string, loopErr error) (*chat.Message, error) {
	s.logger.Error("chat turn degraded", "session", sessionID, "error", loopErr)
	return s.chats.AddMessage(r.Context(), &chat.Message{
		SessionID: sessionID,
		Text:      modelFailureText,
		FromUser:  false,
	})
}

// toModelHistory converts stored messages to model form. Pending
// confirmation payloads are not replayed; the transcript text is
// enough context.
func toModelHistory(messages []*chat.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		role := "assistant"
		if m.FromUser {
			role = "user"
		}
		out = append(out, llm.Message{Role: role, Content: m.Text})
	}
	return out
}

type chatConfirmRequest struct {
	MessageID string          `json:"messageId"`
	Confirm   bool            `json:"confirm"`
	Action    string          `json:"action,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// handleChatConfirm settles a pending proposal.
func (s *Server) handleChatConfirm(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req chatConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errs.Invalid("body", "undecodable JSON"))
		return
	}
	if req.MessageID == "" {
		writeError(w, s.logger, errs.Invalid("messageId", "required"))
		return
	}

	result, err := s.confirmer.Resolve(r.Context(), u.UserID, req.MessageID, req.Confirm, req.Action, req.Data)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	sessions, err := s.chats.ListSessions(r.Context(), u.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req struct {
		Title string `json:"title"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	sess, err := s.chats.CreateSession(r.Context(), u.UserID, req.Title)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	sess, err := s.chats.ActivateSession(r.Context(), u.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	sess, err := s.chats.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if sess.UserID != u.UserID {
		writeError(w, s.logger, fmt.Errorf("session %s: %w", sessionID, errs.ErrForbidden))
		return
	}

	messages, err := s.chats.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	queries, err := s.chats.RecentQueries(r.Context(), u.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": queries})
}
