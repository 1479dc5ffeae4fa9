package ports

import (
	"context"

	"delivery-agent/internal/features/orders/domain"
)

// OrderStore is the interface to the Remote Order Store, the backend that
// owns the durable order records. This is a Secondary Port (Driven Port).
type OrderStore interface {
	// Available lists the unclaimed orders.
	Available(ctx context.Context) ([]domain.Order, error)

	// Mine lists the orders claimed by the given agent.
	Mine(ctx context.Context, agentID string) ([]domain.Order, error)

	// Accept claims an available order for the given agent and returns the
	// server-confirmed record.
	Accept(ctx context.Context, orderID, agentID string) (*domain.Order, error)

	// UpdateStatus advances the order to the given status and returns the
	// server-confirmed record.
	UpdateStatus(ctx context.Context, orderID string, status domain.Status) (*domain.Order, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// TokenSource supplies the bearer token attached to authenticated backend
// calls. An empty token means the call goes out unauthenticated and the
// backend decides.
type TokenSource interface {
	// Token returns the current bearer token, or "" when none is stored.
	Token(ctx context.Context) (string, error)
}

// AgentSession exposes the slice of the persisted session the lifecycle
// manager depends on: the remembered agent id for scoping the Mine
// partition, and clearing everything when the backend declares the session
// dead.
type AgentSession interface {
	// AgentID returns the remembered agent id, or "" when no agent is
	// authenticated.
	AgentID(ctx context.Context) (string, error)

	// Clear removes all persisted session state.
	Clear(ctx context.Context) error
}
