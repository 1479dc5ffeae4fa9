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
	"delivery-agent/internal/features/orders/domain"
	"delivery-agent/internal/features/orders/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIOrderStore implements the OrderStore interface against the Remote Order
// Store's REST API.
type APIOrderStore struct {
	// client is the HTTP client used for API requests.
	client *http.Client
	// baseURL is the backend base URL without a trailing slash.
	baseURL string
	// tokens supplies the bearer token for authenticated calls.
	tokens ports.TokenSource
}

// NewAPIOrderStore creates a new APIOrderStore.
func NewAPIOrderStore(cfg config.BackendConfig, tokens ports.TokenSource) *APIOrderStore {
	return &APIOrderStore{
		client:  httpclient.NewClient(time.Duration(cfg.RequestTimeoutSeconds)*time.Second, cfg.MaxRetries),
		baseURL: cfg.URL,
		tokens:  tokens,
	}
}

// Available lists the unclaimed orders.
func (a *APIOrderStore) Available(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	if err := a.do(ctx, http.MethodGet, "/orders/available", nil, &orders); err != nil {
		return nil, fmt.Errorf("fetch available orders: %w", err)
	}
	return orders, nil
}

// Mine lists the orders claimed by the given agent.
func (a *APIOrderStore) Mine(ctx context.Context, agentID string) ([]domain.Order, error) {
	var orders []domain.Order
	path := fmt.Sprintf("/deliveries/%s/orders", agentID)
	if err := a.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, fmt.Errorf("fetch my deliveries: %w", err)
	}
	return orders, nil
}

// Accept claims an available order for the given agent.
func (a *APIOrderStore) Accept(ctx context.Context, orderID, agentID string) (*domain.Order, error) {
	var order domain.Order
	path := fmt.Sprintf("/orders/%s/accept", orderID)
	body := map[string]string{"deliveryId": agentID}
	if err := a.do(ctx, http.MethodPost, path, body, &order); err != nil {
		return nil, fmt.Errorf("accept order %s: %w", orderID, err)
	}
	return &order, nil
}

// UpdateStatus advances the order through the unified status endpoint.
func (a *APIOrderStore) UpdateStatus(ctx context.Context, orderID string, status domain.Status) (*domain.Order, error) {
	var order domain.Order
	path := fmt.Sprintf("/orders/%s", orderID)
	body := map[string]int{"status": int(status)}
	if err := a.do(ctx, http.MethodPatch, path, body, &order); err != nil {
		return nil, fmt.Errorf("update order %s: %w", orderID, err)
	}
	return &order, nil
}

// HealthCheck verifies that the backend is reachable.
func (a *APIOrderStore) HealthCheck(ctx context.Context) error {
	if err := a.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("backend health check: %w", err)
	}
	return nil
}

// errorBody is the backend's error response shape.
type errorBody struct {
	// Message is the backend's error description.
	Message string `json:"message"`
}

// do executes one backend request. Mutating requests carry a fresh
// idempotency key so a transport-level retry cannot apply twice server-side.
func (a *APIOrderStore) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
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
