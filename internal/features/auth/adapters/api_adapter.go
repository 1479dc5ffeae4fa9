package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"delivery-agent/internal/core/apierr"
	"delivery-agent/internal/core/config"
	"delivery-agent/internal/core/httpclient"
	"delivery-agent/internal/core/logger"
	"delivery-agent/internal/features/auth/domain"
	"delivery-agent/internal/features/auth/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIAuthProvider implements the AuthProvider interface against the backend's
// REST API.
type APIAuthProvider struct {
	// client is the HTTP client used for API requests.
	client *http.Client
	// baseURL is the backend base URL without a trailing slash.
	baseURL string
	// tokens supplies the bearer token for authenticated calls.
	tokens ports.TokenSource
}

// NewAPIAuthProvider creates a new APIAuthProvider.
func NewAPIAuthProvider(cfg config.BackendConfig, tokens ports.TokenSource) *APIAuthProvider {
	return &APIAuthProvider{
		client:  httpclient.NewClient(time.Duration(cfg.RequestTimeoutSeconds)*time.Second, cfg.MaxRetries),
		baseURL: cfg.URL,
		tokens:  tokens,
	}
}

// Login exchanges credentials for an authenticated user record.
func (a *APIAuthProvider) Login(ctx context.Context, creds domain.Credentials) (*domain.User, error) {
	var user domain.User
	if err := a.do(ctx, http.MethodPost, "/auth/login", creds, &user); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &user, nil
}

// Register creates a delivery agent account.
func (a *APIAuthProvider) Register(ctx context.Context, signup domain.Signup) (*domain.User, error) {
	var user domain.User
	if err := a.do(ctx, http.MethodPost, "/auth/register/delivery", signup, &user); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &user, nil
}

// Logout invalidates the session server-side.
func (a *APIAuthProvider) Logout(ctx context.Context) error {
	if err := a.do(ctx, http.MethodPost, "/delivery/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Profile fetches the authenticated agent's profile.
func (a *APIAuthProvider) Profile(ctx context.Context) (*domain.User, error) {
	var user domain.User
	if err := a.do(ctx, http.MethodGet, "/users/me", nil, &user); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &user, nil
}

// UpdateProfile persists profile edits.
func (a *APIAuthProvider) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (*domain.User, error) {
	var user domain.User
	if err := a.do(ctx, http.MethodPatch, "/users/me", update, &user); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &user, nil
}

// errorBody is the backend's error response shape.
type errorBody struct {
	// Message is the backend's error description.
	Message string `json:"message"`
}

// do executes one backend request. Mutating requests carry a fresh
// idempotency key so a transport-level retry cannot apply twice server-side.
func (a *APIAuthProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if method != http.MethodGet {
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		logger.Get().Warn("Failed to read bearer token", zap.Error(err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var errBody errorBody
		json.NewDecoder(resp.Body).Decode(&errBody)
		return apierr.FromStatus(resp.StatusCode, errBody.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
