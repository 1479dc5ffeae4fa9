package ports

import (
	"context"

	"delivery-agent/internal/features/auth/domain"
)

// AuthProvider is the interface to the backend's authentication endpoints.
// This is a Secondary Port (Driven Port).
type AuthProvider interface {
	// Login exchanges credentials for an authenticated user record.
	Login(ctx context.Context, creds domain.Credentials) (*domain.User, error)

	// Register creates a delivery agent account and returns it.
	Register(ctx context.Context, signup domain.Signup) (*domain.User, error)

	// Logout invalidates the current session server-side.
	Logout(ctx context.Context) error

	// Profile fetches the authenticated agent's profile.
	Profile(ctx context.Context) (*domain.User, error)

	// UpdateProfile persists profile edits and returns the updated record.
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.User, error)
}

// SessionStore persists the authenticated session across process restarts.
// Its read side doubles as the token and agent id source the rest of the
// application depends on.
type SessionStore interface {
	// Save persists the session for the given user and token.
	Save(ctx context.Context, token string, user domain.User) error

	// Token returns the stored bearer token, or "" when none is stored.
	Token(ctx context.Context) (string, error)

	// AgentID returns the stored agent id, or "" when none is stored.
	AgentID(ctx context.Context) (string, error)

	// User returns the stored user record, or nil when none is stored.
	User(ctx context.Context) (*domain.User, error)

	// Clear removes all persisted session state.
	Clear(ctx context.Context) error
}

// TokenSource supplies the bearer token for authenticated provider calls.
type TokenSource interface {
	// Token returns the current bearer token, or "" when none is stored.
	Token(ctx context.Context) (string, error)
}
