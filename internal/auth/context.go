package auth

import "context"

type contextKey string

const userKey contextKey = "user"

// AuthedUser is the resolved application user for a request: the
// provider identity plus our own user id from the upsert.
type AuthedUser struct {
	UserID   string
	Identity Identity
}

// WithUser adds the authenticated user to the context.
func WithUser(ctx context.Context, u *AuthedUser) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext extracts the authenticated user, or nil when the
// request did not pass the auth middleware.
func UserFromContext(ctx context.Context) *AuthedUser {
	if u, ok := ctx.Value(userKey).(*AuthedUser); ok {
		return u
	}
	return nil
}
