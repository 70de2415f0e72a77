package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/daybreak-app/daybreak/internal/auth"
	"github.com/daybreak-app/daybreak/internal/errs"
	"github.com/daybreak-app/daybreak/internal/user"
)

// authMiddleware verifies the bearer credential and resolves the
// application user, upserting the profile on every sighting so first
// contact creates the row. Authentication failures fail the request
// outright; they never degrade to a chat message.
func authMiddleware(verifier auth.Verifier, users *user.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, logger, errs.ErrUnauthenticated)
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeError(w, logger, err)
				return
			}

			u, err := users.Upsert(r.Context(), identity.UID, identity.Email, identity.DisplayName)
			if err != nil {
				writeError(w, logger, err)
				return
			}

			ctx := auth.WithUser(r.Context(), &auth.AuthedUser{
				UserID:   u.ID,
				Identity: *identity,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// userLimiter throttles chat requests per user. Limiters are kept for
// the process lifetime; the per-user footprint is one token bucket.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newUserLimiter builds a limiter allowing rpm requests per minute
// with the given burst. rpm <= 0 disables limiting.
func newUserLimiter(rpm, burst int) *userLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(rpm) / 60.0),
		burst:    burst,
	}
}

func (ul *userLimiter) allow(userID string) bool {
	if ul.limit <= 0 {
		return true
	}
	ul.mu.Lock()
	l, ok := ul.limiters[userID]
	if !ok {
		l = rate.NewLimiter(ul.limit, ul.burst)
		ul.limiters[userID] = l
	}
	ul.mu.Unlock()
	return l.Allow()
}

// middleware rejects over-limit requests with 429. Runs after auth so
// the key is the resolved user id, not the network peer.
func (ul *userLimiter) middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := auth.UserFromContext(r.Context())
			if u != nil && !ul.allow(u.UserID) {
				logger.Warn("rate limited", "user", u.UserID, "path", r.URL.Path)
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Code:    "RATE_LIMITED",
					Message: "too many requests, slow down a little",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// HTTPObserver receives response status codes. The metrics collector
// implements it.
type HTTPObserver interface {
	RecordHTTPStatus(code int)
}

// requestLogger logs each request and feeds the status observer.
func requestLogger(logger *slog.Logger, observer HTTPObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			if observer != nil {
				observer.RecordHTTPStatus(sr.status)
			}
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sr.status,
			)
		})
	}
}
