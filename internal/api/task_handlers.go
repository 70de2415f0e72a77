package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daybreak-app/daybreak/internal/auth"
	"github.com/daybreak-app/daybreak/internal/errs"
	"github.com/daybreak-app/daybreak/internal/task"
)

type createTaskRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Date        string           `json:"date"`
	StartTime   string           `json:"startTime"`
	EndTime     string           `json:"endTime"`
	Tags        []task.Tag       `json:"tags"`
	Recurrence  *task.Recurrence `json:"recurrence"`
	Completed   bool             `json:"isCompleted"`
	Subtasks    []struct {
		Title     string `json:"title"`
		Completed bool   `json:"isCompleted"`
	} `json:"subtasks"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errs.Invalid("body", "undecodable JSON"))
		return
	}
	if req.Title == "" {
		writeError(w, s.logger, errs.Invalid("title", "required"))
		return
	}

	t := &task.Task{
		UserID:      u.UserID,
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Tags:        req.Tags,
		Completed:   req.Completed,
	}
	if req.Recurrence != nil {
		t.Recurrence = *req.Recurrence
	}
	for i, st := range req.Subtasks {
		t.Subtasks = append(t.Subtasks, task.Subtask{
			Title:     st.Title,
			Completed: st.Completed,
			Order:     i,
		})
	}

	created, err := s.tasks.Create(r.Context(), t)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleListTasks returns the user's tasks, optionally narrowed to a
// single date (?date=) or an inclusive range (?startDate=&endDate=).
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	q := r.URL.Query()

	var (
		tasks []*task.Task
		err   error
	)
	switch {
	case q.Get("date") != "":
		tasks, err = s.tasks.ListByUserAndDate(r.Context(), u.UserID, q.Get("date"))
	case q.Get("startDate") != "" && q.Get("endDate") != "":
		tasks, err = s.tasks.ListByUserDateRange(r.Context(), u.UserID, q.Get("startDate"), q.Get("endDate"))
	default:
		tasks, err = s.tasks.ListByUser(r.Context(), u.UserID)
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	t, err := s.tasks.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if t.UserID != u.UserID {
		writeError(w, s.logger, fmt.Errorf("task %s: %w", id, errs.ErrForbidden))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type updateTaskRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Date        *string          `json:"date"`
	StartTime   *string          `json:"startTime"`
	EndTime     *string          `json:"endTime"`
	Tags        *[]task.Tag      `json:"tags"`
	Recurrence  *task.Recurrence `json:"recurrence"`
	Completed   *bool            `json:"isCompleted"`
}

// handleUpdateTask applies a partial update. A completion flip in
// either direction recomputes the streak for the task's date, so
// unchecking the last task of a counted day walks the streak back.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errs.Invalid("body", "undecodable JSON"))
		return
	}

	before, err := s.tasks.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if before.UserID != u.UserID {
		writeError(w, s.logger, fmt.Errorf("task %s: %w", id, errs.ErrForbidden))
		return
	}

	updated, err := s.tasks.Update(r.Context(), u.UserID, id, task.Patch{
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Tags:        req.Tags,
		Recurrence:  req.Recurrence,
		Completed:   req.Completed,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if req.Completed != nil && *req.Completed != before.Completed {
		if err := s.streaks.Recalculate(r.Context(), u.UserID, updated.Date); err != nil {
			s.logger.Error("streak recalculation failed", "user", u.UserID, "date", updated.Date, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.tasks.SoftDelete(r.Context(), u.UserID, id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSubtask(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	taskID := chi.URLParam(r, "id")

	var req struct {
		Title     string `json:"title"`
		Completed bool   `json:"isCompleted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errs.Invalid("body", "undecodable JSON"))
		return
	}
	if req.Title == "" {
		writeError(w, s.logger, errs.Invalid("title", "required"))
		return
	}

	created, err := s.tasks.CreateSubtask(r.Context(), u.UserID, taskID, &task.Subtask{
		Title:     req.Title,
		Completed: req.Completed,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateSubtask(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req struct {
		Title     *string `json:"title"`
		Completed *bool   `json:"isCompleted"`
		Order     *int    `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, errs.Invalid("body", "undecodable JSON"))
		return
	}

	updated, err := s.tasks.UpdateSubtask(r.Context(), u.UserID, id, task.SubtaskPatch{
		Title:     req.Title,
		Completed: req.Completed,
		Order:     req.Order,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSubtask(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	if err := s.tasks.DeleteSubtask(r.Context(), u.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the authenticated user's profile and streaks.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	me, err := s.users.Get(r.Context(), u.UserID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}
