package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/daybreak-app/daybreak/internal/agent"
	"github.com/daybreak-app/daybreak/internal/auth"
	"github.com/daybreak-app/daybreak/internal/chat"
	"github.com/daybreak-app/daybreak/internal/config"
	"github.com/daybreak-app/daybreak/internal/task"
	"github.com/daybreak-app/daybreak/internal/user"
)

// Server holds the wired dependencies for the HTTP surface. Everything
// is injected; nothing reaches for package-level state.
type Server struct {
	logger    *slog.Logger
	users     *user.Store
	tasks     *task.Store
	chats     *chat.Store
	loop      *agent.Loop
	confirmer *agent.ConfirmationHandler
	streaks   *task.Recalculator
	verifier  auth.Verifier
	observer  HTTPObserver
	metrics   http.Handler
	rateCfg   config.RateConfig
}

// Deps bundles the constructor arguments for NewServer.
type Deps struct {
	Logger    *slog.Logger
	Users     *user.Store
	Tasks     *task.Store
	Chats     *chat.Store
	Loop      *agent.Loop
	Confirmer *agent.ConfirmationHandler
	Streaks   *task.Recalculator
	Verifier  auth.Verifier
	Observer  HTTPObserver
	Metrics   http.Handler
	RateLimit config.RateConfig
}

// NewServer creates the server.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:    logger,
		users:     d.Users,
		tasks:     d.Tasks,
		chats:     d.Chats,
		loop:      d.Loop,
		confirmer: d.Confirmer,
		streaks:   d.Streaks,
		verifier:  d.Verifier,
		observer:  d.Observer,
		metrics:   d.Metrics,
		rateCfg:   d.RateLimit,
	}
}

// Router assembles the chi router: open endpoints first, then the
// authenticated API group with per-user rate limiting on the chat
// routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.logger, s.observer))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method("GET", "/metrics", s.metrics)
	}

	limiter := newUserLimiter(s.rateCfg.RequestsPerMinute, s.rateCfg.Burst)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.verifier, s.users, s.logger))

		r.Route("/chat", func(r chi.Router) {
			r.With(limiter.middleware(s.logger)).Post("/message", s.handleChatMessage)
			r.Post("/confirm", s.handleChatConfirm)

			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleCreateSession)
			r.Post("/sessions/{id}/activate", s.handleActivateSession)
			r.Get("/sessions/{id}/messages", s.handleListMessages)

			r.Get("/recent-queries", s.handleRecentQueries)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Put("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/subtasks", s.handleCreateSubtask)
			})
		})
		r.Put("/subtasks/{id}", s.handleUpdateSubtask)
		r.Delete("/subtasks/{id}", s.handleDeleteSubtask)

		r.Get("/me", s.handleMe)
	})

	return r
}
