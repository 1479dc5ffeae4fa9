package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"delivery-agent/internal/core/apierr"
	"delivery-agent/internal/core/bus"
	"delivery-agent/internal/core/logger"
	"delivery-agent/internal/features/auth/domain"
	"delivery-agent/internal/features/auth/ports"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrNoSession is returned by profile operations when no agent is logged in.
var ErrNoSession = errors.New("no active session")

// AuthService owns the agent's session: it logs in and registers against the
// backend, persists the resulting session, and tears everything down on
// logout or when the backend rejects the token.
type AuthService struct {
	provider ports.AuthProvider
	sessions ports.SessionStore
	notifier *bus.Bus
}

// NewAuthService creates a new AuthService.
func NewAuthService(provider ports.AuthProvider, sessions ports.SessionStore, notifier *bus.Bus) *AuthService {
	return &AuthService{
		provider: provider,
		sessions: sessions,
		notifier: notifier,
	}
}

// Login authenticates the agent and persists the session.
func (s *AuthService) Login(ctx context.Context, creds domain.Credentials) (*domain.User, error) {
	user, err := s.provider.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Save(ctx, user.Token, *user); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	logger.Get().Info("Agent logged in",
		zap.String("agent_id", user.ID),
		zap.String("email", user.Email),
	)
	return user, nil
}

// Signup registers a new delivery agent and persists the session when the
// backend returns a token with the new account.
func (s *AuthService) Signup(ctx context.Context, signup domain.Signup) (*domain.User, error) {
	user, err := s.provider.Register(ctx, signup)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Save(ctx, user.Token, *user); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	logger.Get().Info("Agent registered", zap.String("agent_id", user.ID))
	return user, nil
}

// Logout invalidates the session server-side on a best-effort basis, clears
// the persisted session and broadcasts the logout. The local teardown happens
// even when the backend call fails.
func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.provider.Logout(ctx); err != nil {
		logger.Get().Warn("Server-side logout failed", zap.Error(err))
	}

	if err := s.sessions.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	s.notifier.PublishLogout()
	return nil
}

// Authenticated reports whether a usable session is stored. A token whose
// expiry claim has passed counts as no session and is cleared eagerly, before
// the backend gets a chance to reject it.
func (s *AuthService) Authenticated(ctx context.Context) (bool, error) {
	token, err := s.sessions.Token(ctx)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}

	if tokenExpired(token) {
		logger.Get().Info("Stored token expired, clearing session")
		if err := s.sessions.Clear(ctx); err != nil {
			return false, fmt.Errorf("clear expired session: %w", err)
		}
		s.notifier.PublishLogout()
		return false, nil
	}
	return true, nil
}

// Profile returns the agent's profile from the backend and refreshes the
// cached user record.
func (s *AuthService) Profile(ctx context.Context) (*domain.User, error) {
	if err := s.requireSession(ctx); err != nil {
		return nil, err
	}

	user, err := s.provider.Profile(ctx)
	if err != nil {
		return nil, s.sessionRejected(ctx, err)
	}

	s.cacheUser(ctx, *user)
	return user, nil
}

// UpdateProfile persists profile edits and refreshes the cached user record.
func (s *AuthService) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.User, error) {
	if err := s.requireSession(ctx); err != nil {
		return nil, err
	}

	user, err := s.provider.UpdateProfile(ctx, update)
	if err != nil {
		return nil, s.sessionRejected(ctx, err)
	}

	s.cacheUser(ctx, *user)
	return user, nil
}

func (s *AuthService) requireSession(ctx context.Context) error {
	ok, err := s.Authenticated(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSession
	}
	return nil
}

// sessionRejected tears the session down when the backend declares it dead
// and passes every other error through untouched.
func (s *AuthService) sessionRejected(ctx context.Context, err error) error {
	if !errors.Is(err, apierr.ErrUnauthorized) {
		return err
	}

	logger.Get().Warn("Session rejected by backend, forcing logout")
	if clearErr := s.sessions.Clear(ctx); clearErr != nil {
		logger.Get().Error("Failed to clear session", zap.Error(clearErr))
	}
	s.notifier.PublishLogout()
	return err
}

// cacheUser refreshes the stored user record without touching the token.
func (s *AuthService) cacheUser(ctx context.Context, user domain.User) {
	token, err := s.sessions.Token(ctx)
	if err != nil {
		logger.Get().Warn("Failed to read stored token", zap.Error(err))
		return
	}
	if err := s.sessions.Save(ctx, token, user); err != nil {
		logger.Get().Warn("Failed to refresh cached user", zap.Error(err))
	}
}

// tokenExpired inspects the token's exp claim without verifying the
// signature; verification is the backend's job. Opaque tokens pass through.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}
