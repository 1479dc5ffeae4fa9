package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"delivery-agent/internal/core/apierr"
	"delivery-agent/internal/core/bus"
	"delivery-agent/internal/core/logger"
	"delivery-agent/internal/features/orders/domain"
	"delivery-agent/internal/features/orders/ports"

	"go.uber.org/zap"
)

var (
	// ErrNotAuthenticated is returned when a mutation is attempted with no agent session.
	ErrNotAuthenticated = errors.New("no authenticated agent")
	// ErrOrderNotAvailable is returned when accepting an order that is not in the Available partition.
	ErrOrderNotAvailable = errors.New("order is not available for acceptance")
	// ErrOrderNotFound is returned when the order is in neither partition.
	ErrOrderNotFound = errors.New("order not found in the working set")
	// ErrMutationInFlight is returned when another mutation for the same order is still pending.
	ErrMutationInFlight = errors.New("a mutation is already in flight for this order")
	// ErrInvalidTransition is returned for any status change that is not current+1 or the failed sentinel.
	ErrInvalidTransition = errors.New("illegal status transition")
)

// DefaultStaleness is how old a cached partition may get before a list call
// triggers a background refresh.
const DefaultStaleness = 30 * time.Second

// Options tunes the lifecycle manager.
type Options struct {
	// Staleness is the partition refresh threshold. Non-positive values
	// fall back to DefaultStaleness.
	Staleness time.Duration
	// RemoveDelay is how long a delivered order stays visible in the Mine
	// partition before being dropped. Zero removes it on the next tick.
	RemoveDelay time.Duration
}

// Lifecycle maintains the agent's two cached order partitions (Available and
// Mine), applies user-issued transitions optimistically before the Remote
// Order Store confirms them, and rolls the partitions back on failure.
//
// Both partitions are updated only by whole-slice snapshot swaps under one
// mutex, so readers never observe a half-applied mutation. Remote calls run
// outside the lock; the "at most one in-flight mutation per order id" rule
// is the only cross-call ordering guarantee.
type Lifecycle struct {
	store    ports.OrderStore
	session  ports.AgentSession
	notifier *bus.Bus

	staleness   time.Duration
	removeDelay time.Duration

	mu                  sync.Mutex
	available           []domain.Order
	mine                []domain.Order
	availableFetched    time.Time
	mineFetched         time.Time
	refreshingAvailable bool
	refreshingMine      bool
	inflight            map[string]struct{}
}

// NewLifecycle creates a lifecycle manager over the given remote store,
// session and notification bus.
func NewLifecycle(store ports.OrderStore, session ports.AgentSession, notifier *bus.Bus, opts Options) *Lifecycle {
	staleness := opts.Staleness
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	removeDelay := opts.RemoveDelay
	if removeDelay < 0 {
		removeDelay = 0
	}
	l := &Lifecycle{
		store:       store,
		session:     session,
		notifier:    notifier,
		staleness:   staleness,
		removeDelay: removeDelay,
		inflight:    make(map[string]struct{}),
	}
	// A logout, forced or user-initiated, invalidates both partitions.
	notifier.SubscribeLogout(l.clearPartitions)
	return l
}

// clearPartitions drops both cached partitions so the next authenticated
// session starts from a clean fetch.
func (l *Lifecycle) clearPartitions() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = nil
	l.mine = nil
	l.availableFetched = time.Time{}
	l.mineFetched = time.Time{}
}

// ListAvailable returns the current Available partition immediately. When the
// cached copy is older than the staleness threshold it also kicks off a
// single background refresh; the partition is swapped in place once the
// refresh resolves, so callers must treat this as a subscription rather than
// a synchronous fetch.
func (l *Lifecycle) ListAvailable(ctx context.Context) []domain.Order {
	l.mu.Lock()
	out := cloneOrders(l.available)
	refresh := time.Since(l.availableFetched) > l.staleness && !l.refreshingAvailable
	if refresh {
		l.refreshingAvailable = true
	}
	l.mu.Unlock()

	if refresh {
		go l.refreshAvailable()
	}
	return out
}

// ListMine returns the orders claimed by the current agent, refreshing in the
// background like ListAvailable. With no agent session it degrades to an
// empty slice rather than an error.
func (l *Lifecycle) ListMine(ctx context.Context) []domain.Order {
	agentID, err := l.session.AgentID(ctx)
	if err != nil || agentID == "" {
		return []domain.Order{}
	}

	l.mu.Lock()
	out := cloneOrders(l.mine)
	refresh := time.Since(l.mineFetched) > l.staleness && !l.refreshingMine
	if refresh {
		l.refreshingMine = true
	}
	l.mu.Unlock()

	if refresh {
		go l.refreshMine(agentID)
	}
	return out
}

// Accept optimistically moves an available order into the Mine partition and
// then claims it on the Remote Order Store. The move is visible to readers
// synchronously; on remote failure both partitions are restored to the exact
// snapshots taken before the move, and the error propagates.
func (l *Lifecycle) Accept(ctx context.Context, orderID string) (*domain.Order, error) {
	agentID, err := l.session.AgentID(ctx)
	if err != nil || agentID == "" {
		return nil, ErrNotAuthenticated
	}

	l.mu.Lock()
	if _, busy := l.inflight[orderID]; busy {
		l.mu.Unlock()
		return nil, ErrMutationInFlight
	}

	idx := indexOf(l.available, orderID)
	if idx < 0 || l.available[idx].Status != domain.StatusAvailable {
		l.mu.Unlock()
		return nil, ErrOrderNotAvailable
	}

	snapAvailable := cloneOrders(l.available)
	snapMine := cloneOrders(l.mine)

	claimed := l.available[idx]
	claimed.Status = domain.StatusAccepted

	next := make([]domain.Order, 0, len(l.available)-1)
	next = append(next, l.available[:idx]...)
	next = append(next, l.available[idx+1:]...)
	l.available = next
	l.mine = append(cloneOrders(l.mine), claimed)

	l.inflight[orderID] = struct{}{}
	l.mu.Unlock()

	confirmed, err := l.store.Accept(ctx, orderID, agentID)
	if err != nil {
		l.mu.Lock()
		l.available = snapAvailable
		l.mine = snapMine
		delete(l.inflight, orderID)
		l.mu.Unlock()
		return nil, l.mutationFailed("accept", orderID, err)
	}

	merged := claimed
	if confirmed != nil {
		merged = claimed.Merge(*confirmed)
	}

	l.mu.Lock()
	l.mine = replaceByID(l.mine, merged)
	delete(l.inflight, orderID)
	l.mu.Unlock()

	logger.Get().Info("Order accepted",
		zap.String("order_id", orderID),
		zap.String("agent_id", agentID),
	)
	return &merged, nil
}

// Advance optimistically moves an order to the next lifecycle status and then
// confirms the step with the Remote Order Store. The target must be exactly
// current+1 or the failed sentinel; anything else is rejected before any
// network traffic. The order is rewritten wherever it currently lives: Mine
// primarily, and Available as well, which repairs stale partition membership
// held by a confused caller.
func (l *Lifecycle) Advance(ctx context.Context, orderID string, target domain.Status) (*domain.Order, error) {
	l.mu.Lock()
	if _, busy := l.inflight[orderID]; busy {
		l.mu.Unlock()
		return nil, ErrMutationInFlight
	}

	current, found := l.lookupLocked(orderID)
	if !found {
		l.mu.Unlock()
		return nil, ErrOrderNotFound
	}
	if !current.Status.CanAdvanceTo(target) {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
	}

	snapAvailable := cloneOrders(l.available)
	snapMine := cloneOrders(l.mine)

	l.mine, _ = setStatus(l.mine, orderID, target)
	l.available, _ = setStatus(l.available, orderID, target)

	l.inflight[orderID] = struct{}{}
	l.mu.Unlock()

	confirmed, err := l.store.UpdateStatus(ctx, orderID, target)
	if err != nil {
		l.mu.Lock()
		l.available = snapAvailable
		l.mine = snapMine
		delete(l.inflight, orderID)
		l.mu.Unlock()
		return nil, l.mutationFailed("update", orderID, err)
	}

	updated := current
	updated.Status = target
	if confirmed != nil {
		updated = updated.Merge(*confirmed)
	}

	l.mu.Lock()
	l.mine = replaceByID(l.mine, updated)
	l.available = replaceByID(l.available, updated)
	delete(l.inflight, orderID)
	l.mu.Unlock()

	if target == domain.StatusDelivered {
		l.scheduleRemoval(orderID)
	}

	logger.Get().Info("Order status advanced",
		zap.String("order_id", orderID),
		zap.String("status", target.String()),
	)
	return &updated, nil
}

// HealthCheck verifies the Remote Order Store is reachable.
func (l *Lifecycle) HealthCheck(ctx context.Context) error {
	return l.store.HealthCheck(ctx)
}

// scheduleRemoval drops a delivered order from the Mine partition after the
// configured display delay, so the completed state stays visible briefly.
func (l *Lifecycle) scheduleRemoval(orderID string) {
	time.AfterFunc(l.removeDelay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		idx := indexOf(l.mine, orderID)
		if idx < 0 {
			return
		}
		next := make([]domain.Order, 0, len(l.mine)-1)
		next = append(next, l.mine[:idx]...)
		next = append(next, l.mine[idx+1:]...)
		l.mine = next
	})
}

func (l *Lifecycle) refreshAvailable() {
	orders, err := l.store.Available(context.Background())

	l.mu.Lock()
	l.refreshingAvailable = false
	// A refresh result never clobbers partitions holding optimistic
	// entries; the next list call will fetch again.
	if err == nil && len(l.inflight) == 0 {
		l.available = orders
		l.availableFetched = time.Now()
	}
	l.mu.Unlock()

	if err != nil {
		if errors.Is(err, apierr.ErrUnauthorized) {
			l.forceLogout()
			return
		}
		logger.Get().Warn("Available orders refresh failed", zap.Error(err))
	}
}

func (l *Lifecycle) refreshMine(agentID string) {
	orders, err := l.store.Mine(context.Background(), agentID)

	l.mu.Lock()
	l.refreshingMine = false
	if err == nil && len(l.inflight) == 0 {
		l.mine = orders
		l.mineFetched = time.Now()
	}
	l.mu.Unlock()

	if err != nil {
		if errors.Is(err, apierr.ErrUnauthorized) {
			l.forceLogout()
			return
		}
		logger.Get().Warn("My deliveries refresh failed", zap.Error(err))
	}
}

// mutationFailed routes a remote failure: authorization expiry clears the
// session and broadcasts logout; everything else becomes a transient message
// plus a propagated error. The optimistic rollback has already happened by
// the time this runs.
func (l *Lifecycle) mutationFailed(op, orderID string, err error) error {
	if errors.Is(err, apierr.ErrUnauthorized) {
		l.forceLogout()
		return err
	}

	logger.Get().Error("Order mutation failed",
		zap.String("op", op),
		zap.String("order_id", orderID),
		zap.Error(err),
	)
	l.notifier.PublishMessage(fmt.Sprintf("Could not %s order %s, please try again", op, orderID), 0)
	return fmt.Errorf("%s order %s: %w", op, orderID, err)
}

func (l *Lifecycle) forceLogout() {
	logger.Get().Warn("Session rejected by backend, forcing logout")
	if err := l.session.Clear(context.Background()); err != nil {
		logger.Get().Error("Failed to clear session", zap.Error(err))
	}
	l.notifier.PublishLogout()
}

// lookupLocked finds the order in Mine first, then Available. Callers hold l.mu.
func (l *Lifecycle) lookupLocked(orderID string) (domain.Order, bool) {
	if idx := indexOf(l.mine, orderID); idx >= 0 {
		return l.mine[idx], true
	}
	if idx := indexOf(l.available, orderID); idx >= 0 {
		return l.available[idx], true
	}
	return domain.Order{}, false
}

func cloneOrders(orders []domain.Order) []domain.Order {
	out := make([]domain.Order, len(orders))
	copy(out, orders)
	return out
}

func indexOf(orders []domain.Order, id string) int {
	for i := range orders {
		if orders[i].ID == id {
			return i
		}
	}
	return -1
}

// setStatus returns a copy of the slice with the order's status rewritten.
func setStatus(orders []domain.Order, id string, status domain.Status) ([]domain.Order, bool) {
	idx := indexOf(orders, id)
	if idx < 0 {
		return orders, false
	}
	out := cloneOrders(orders)
	out[idx].Status = status
	return out, true
}

// replaceByID returns a copy of the slice with the matching order replaced.
func replaceByID(orders []domain.Order, order domain.Order) []domain.Order {
	idx := indexOf(orders, order.ID)
	if idx < 0 {
		return orders
	}
	out := cloneOrders(orders)
	out[idx] = order
	return out
}
