package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"delivery-agent/internal/core/cache"
	"delivery-agent/internal/features/auth/domain"
)

const (
	sessionTokenKey   = "session:token"
	sessionAgentIDKey = "session:agent_id"
	sessionUserKey    = "session:user"
)

// CacheSessionStore persists the session in the key-value cache so it
// survives process restarts. A missing key reads as an empty session rather
// than an error.
type CacheSessionStore struct {
	cache cache.Cache
}

// NewCacheSessionStore creates a new CacheSessionStore.
func NewCacheSessionStore(c cache.Cache) *CacheSessionStore {
	return &CacheSessionStore{cache: c}
}

// Save persists the token, the agent id and the serialized user record.
func (s *CacheSessionStore) Save(ctx context.Context, token string, user domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	if err := s.cache.Set(ctx, sessionTokenKey, []byte(token), 0); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	if err := s.cache.Set(ctx, sessionAgentIDKey, []byte(user.ID), 0); err != nil {
		return fmt.Errorf("failed to store agent id: %w", err)
	}
	if err := s.cache.Set(ctx, sessionUserKey, data, 0); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

// Token returns the stored bearer token, or "" when none is stored.
func (s *CacheSessionStore) Token(ctx context.Context) (string, error) {
	return s.readString(ctx, sessionTokenKey)
}

// AgentID returns the stored agent id, or "" when none is stored.
func (s *CacheSessionStore) AgentID(ctx context.Context) (string, error) {
	return s.readString(ctx, sessionAgentIDKey)
}

// User returns the stored user record, or nil when none is stored.
func (s *CacheSessionStore) User(ctx context.Context) (*domain.User, error) {
	data, err := s.cache.Get(ctx, sessionUserKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &user, nil
}

// Clear removes all persisted session state.
func (s *CacheSessionStore) Clear(ctx context.Context) error {
	for _, key := range []string{sessionTokenKey, sessionAgentIDKey, sessionUserKey} {
		if err := s.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

func (s *CacheSessionStore) readString(ctx context.Context, key string) (string, error) {
	data, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), nil
}
