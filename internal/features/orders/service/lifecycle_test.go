package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"delivery-agent/internal/core/apierr"
	"delivery-agent/internal/core/bus"
	"delivery-agent/internal/features/orders/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOrderStore is a mock implementation of ports.OrderStore for testing.
type mockOrderStore struct {
	mu          sync.Mutex
	available   []domain.Order
	mine        []domain.Order
	listErr     error
	acceptErr   error
	updateErr   error
	acceptCalls int
	updateCalls int
	confirm     *domain.Order

	// blockMutations, when non-nil, makes Accept and UpdateStatus wait
	// until the channel is closed.
	blockMutations chan struct{}
}

func (m *mockOrderStore) Available(ctx context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.Order(nil), m.available...), nil
}

func (m *mockOrderStore) Mine(ctx context.Context, agentID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.Order(nil), m.mine...), nil
}

func (m *mockOrderStore) Accept(ctx context.Context, orderID, agentID string) (*domain.Order, error) {
	m.mu.Lock()
	m.acceptCalls++
	block := m.blockMutations
	m.mu.Unlock()

	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acceptErr != nil {
		return nil, m.acceptErr
	}
	return m.confirm, nil
}

func (m *mockOrderStore) UpdateStatus(ctx context.Context, orderID string, status domain.Status) (*domain.Order, error) {
	m.mu.Lock()
	m.updateCalls++
	block := m.blockMutations
	m.mu.Unlock()

	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return m.confirm, nil
}

func (m *mockOrderStore) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *mockOrderStore) mutationCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acceptCalls + m.updateCalls
}

// mockSession is a mock implementation of ports.AgentSession for testing.
type mockSession struct {
	mu      sync.Mutex
	agentID string
	cleared bool
}

func (m *mockSession) AgentID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleared {
		return "", nil
	}
	return m.agentID, nil
}

func (m *mockSession) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = true
	return nil
}

func (m *mockSession) wasCleared() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleared
}

func seedOrders() []domain.Order {
	return []domain.Order{
		{ID: "O1", PickupAddress: "Fresh Mart, MG Road", DeliveryAddress: "123 Park Street", Distance: "3.5 km", Price: 50, Status: domain.StatusAvailable},
		{ID: "O2", PickupAddress: "Super Market, Beach Road", DeliveryAddress: "456 Hill View", Distance: "5.2 km", Price: 70, Status: domain.StatusAvailable},
		{ID: "O3", PickupAddress: "City Store, Palarivattom", DeliveryAddress: "789 Marine Drive", Distance: "2.8 km", Price: 45, Status: domain.StatusAvailable},
	}
}

// newTestLifecycle builds a lifecycle with pre-warmed partitions so list
// calls do not trigger background refreshes.
func newTestLifecycle(store *mockOrderStore, session *mockSession, b *bus.Bus, available, mine []domain.Order) *Lifecycle {
	l := NewLifecycle(store, session, b, Options{Staleness: time.Hour})
	l.available = available
	l.mine = mine
	l.availableFetched = time.Now()
	l.mineFetched = time.Now()
	return l
}

// TestLifecycle_Accept_OptimisticMove verifies the accepted order moves
// Available -> Mine synchronously and the server confirmation is merged in.
func TestLifecycle_Accept_OptimisticMove(t *testing.T) {
	store := &mockOrderStore{
		confirm: &domain.Order{ID: "O1", Status: domain.StatusAccepted, CustomerName: "Rahul Kumar"},
	}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	l := newTestLifecycle(store, session, b, seedOrders(), nil)

	order, err := l.Accept(context.Background(), "O1")
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, domain.StatusAccepted, order.Status)
	assert.Equal(t, "Rahul Kumar", order.CustomerName)
	// Locally known fields survive the sparse confirmation.
	assert.Equal(t, float64(50), order.Price)

	available := l.ListAvailable(context.Background())
	mine := l.ListMine(context.Background())
	assert.Len(t, available, 2)
	require.Len(t, mine, 1)
	assert.Equal(t, "O1", mine[0].ID)
	assert.Equal(t, domain.StatusAccepted, mine[0].Status)
}

// TestLifecycle_Accept_RollbackRestoresExactSnapshot verifies that a failed
// accept restores Available exactly, by content and order, empties Mine
// again, and publishes a failure message.
func TestLifecycle_Accept_RollbackRestoresExactSnapshot(t *testing.T) {
	store := &mockOrderStore{acceptErr: errors.New("connection reset")}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	var messages []bus.Message
	b.SubscribeMessages(func(m bus.Message) { messages = append(messages, m) })

	original := seedOrders()
	l := newTestLifecycle(store, session, b, cloneOrders(original), nil)

	// The optimistic move is visible while the remote call is pending; here
	// the call fails, so afterwards both partitions must match the snapshot.
	_, err := l.Accept(context.Background(), "O2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	available := l.ListAvailable(context.Background())
	require.Len(t, available, len(original))
	for i := range original {
		assert.Equal(t, original[i].ID, available[i].ID)
		assert.Equal(t, original[i].Status, available[i].Status)
		assert.Equal(t, original[i].Price, available[i].Price)
	}
	assert.Empty(t, l.ListMine(context.Background()))

	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Text, "O2")
}

// TestLifecycle_Accept_NoDuplication verifies an order id never appears in
// both partitions, during or after the mutation.
func TestLifecycle_Accept_NoDuplication(t *testing.T) {
	release := make(chan struct{})
	store := &mockOrderStore{blockMutations: release}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	l := newTestLifecycle(store, session, b, seedOrders(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background(), "O1")
		done <- err
	}()

	// While the remote call is in flight the order lives in exactly one partition.
	require.Eventually(t, func() bool {
		return store.mutationCalls() == 1
	}, time.Second, time.Millisecond)

	inAvailable := indexOf(l.ListAvailable(context.Background()), "O1") >= 0
	inMine := indexOf(l.ListMine(context.Background()), "O1") >= 0
	assert.False(t, inAvailable)
	assert.True(t, inMine)

	close(release)
	require.NoError(t, <-done)

	inAvailable = indexOf(l.ListAvailable(context.Background()), "O1") >= 0
	inMine = indexOf(l.ListMine(context.Background()), "O1") >= 0
	assert.False(t, inAvailable)
	assert.True(t, inMine)
}

// TestLifecycle_Accept_ConflictWhileInFlight verifies the single-flight rule
// rejects a concurrent accept for the same id without touching the network.
func TestLifecycle_Accept_ConflictWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	store := &mockOrderStore{blockMutations: release}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	l := newTestLifecycle(store, session, b, seedOrders(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background(), "O1")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return store.mutationCalls() == 1
	}, time.Second, time.Millisecond)

	_, err := l.Accept(context.Background(), "O1")
	assert.ErrorIs(t, err, ErrMutationInFlight)
	assert.Equal(t, 1, store.mutationCalls())

	close(release)
	require.NoError(t, <-done)
}

// TestLifecycle_Accept_NotAvailable verifies accepting an unknown or already
// claimed order is rejected synchronously.
func TestLifecycle_Accept_NotAvailable(t *testing.T) {
	store := &mockOrderStore{}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	l := newTestLifecycle(store, session, b, seedOrders(), nil)

	_, err := l.Accept(context.Background(), "UNKNOWN")
	assert.ErrorIs(t, err, ErrOrderNotAvailable)
	assert.Equal(t, 0, store.mutationCalls())
}

// TestLifecycle_Accept_NotAuthenticated verifies mutations need a session.
func TestLifecycle_Accept_NotAuthenticated(t *testing.T) {
	store := &mockOrderStore{}
	session := &mockSession{}
	b := bus.New()
	defer b.Close()

	l := newTestLifecycle(store, session, b, seedOrders(), nil)

	_, err := l.Accept(context.Background(), "O1")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

// TestLifecycle_Accept_UnauthorizedForcesLogout verifies a 401 clears the
// session and broadcasts logout instead of a generic failure message.
func TestLifecycle_Accept_UnauthorizedForcesLogout(t *testing.T) {
	store := &mockOrderStore{acceptErr: apierr.ErrUnauthorized}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	logoutSeen := false
	b.SubscribeLogout(func() { logoutSeen = true })

	var messages []bus.Message
	b.SubscribeMessages(func(m bus.Message) { messages = append(messages, m) })

	l := newTestLifecycle(store, session, b, seedOrders(), nil)

	_, err := l.Accept(context.Background(), "O1")
	assert.ErrorIs(t, err, apierr.ErrUnauthorized)
	assert.True(t, session.wasCleared())
	assert.True(t, logoutSeen)
	assert.Empty(t, messages)

	// The logout broadcast invalidates both partitions.
	assert.Empty(t, l.available)
	assert.Empty(t, l.mine)
}

// TestLifecycle_Advance_HappyPath verifies the linear progression and that
// confirmed statuses form a non-decreasing sequence.
func TestLifecycle_Advance_HappyPath(t *testing.T) {
	store := &mockOrderStore{}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	mine := []domain.Order{{ID: "O4", Status: domain.StatusAccepted, CustomerName: "Priya Sharma"}}
	l := newTestLifecycle(store, session, b, nil, mine)

	var seen []domain.Status
	for _, target := range []domain.Status{domain.StatusPickedUp, domain.StatusPacking, domain.StatusInTransit} {
		order, err := l.Advance(context.Background(), "O4", target)
		require.NoError(t, err)
		assert.Equal(t, target, order.Status)
		seen = append(seen, order.Status)
	}

	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, seen[i-1], seen[i])
	}

	current := l.ListMine(context.Background())
	require.Len(t, current, 1)
	assert.Equal(t, domain.StatusInTransit, current[0].Status)
}

// TestLifecycle_Advance_RejectsIllegalTargets verifies skips, regressions and
// repeats are rejected before any network call.
func TestLifecycle_Advance_RejectsIllegalTargets(t *testing.T) {
	store := &mockOrderStore{}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	mine := []domain.Order{{ID: "O4", Status: domain.StatusPickedUp}}
	l := newTestLifecycle(store, session, b, nil, mine)

	for _, target := range []domain.Status{
		domain.StatusInTransit, // skip
		domain.StatusAccepted,  // regression
		domain.StatusPickedUp,  // repeat
	} {
		_, err := l.Advance(context.Background(), "O4", target)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 0, store.mutationCalls())
}

// TestLifecycle_Advance_FailedSentinel verifies abnormal termination is
// reachable from any non-terminal status.
func TestLifecycle_Advance_FailedSentinel(t *testing.T) {
	store := &mockOrderStore{}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	mine := []domain.Order{{ID: "O4", Status: domain.StatusInTransit}}
	l := newTestLifecycle(store, session, b, nil, mine)

	order, err := l.Advance(context.Background(), "O4", domain.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, order.Status)
}

// TestLifecycle_Advance_SingleFlight verifies P4: two concurrent advances for
// the same id produce exactly one network call.
func TestLifecycle_Advance_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	store := &mockOrderStore{blockMutations: release}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	mine := []domain.Order{{ID: "X", Status: domain.StatusAccepted}}
	l := newTestLifecycle(store, session, b, nil, mine)

	done := make(chan error, 1)
	go func() {
		_, err := l.Advance(context.Background(), "X", domain.StatusPickedUp)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return store.mutationCalls() == 1
	}, time.Second, time.Millisecond)

	_, err := l.Advance(context.Background(), "X", domain.StatusPickedUp)
	assert.ErrorIs(t, err, ErrMutationInFlight)
	assert.Equal(t, 1, store.mutationCalls())

	close(release)
	require.NoError(t, <-done)
}

// TestLifecycle_Advance_RollbackRestoresBothPartitions verifies a failed
// advance restores the pre-mutation snapshots.
func TestLifecycle_Advance_RollbackRestoresBothPartitions(t *testing.T) {
	store := &mockOrderStore{updateErr: errors.New("gateway timeout")}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	mine := []domain.Order{{ID: "O4", Status: domain.StatusAccepted, Price: 60}}
	l := newTestLifecycle(store, session, b, seedOrders(), mine)

	_, err := l.Advance(context.Background(), "O4", domain.StatusPickedUp)
	require.Error(t, err)

	after := l.ListMine(context.Background())
	require.Len(t, after, 1)
	assert.Equal(t, domain.StatusAccepted, after[0].Status)
	assert.Len(t, l.ListAvailable(context.Background()), 3)
}

// TestLifecycle_Advance_RepairsStalePartition verifies the defensive
// dual-partition update: an order stranded in Available with a claimed status
// is still advanced there.
func TestLifecycle_Advance_RepairsStalePartition(t *testing.T) {
	store := &mockOrderStore{}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	// Stale membership: a claimed order that never left Available.
	stale := []domain.Order{{ID: "O9", Status: domain.StatusAccepted}}
	l := newTestLifecycle(store, session, b, stale, nil)

	order, err := l.Advance(context.Background(), "O9", domain.StatusPickedUp)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPickedUp, order.Status)

	available := l.ListAvailable(context.Background())
	require.Len(t, available, 1)
	assert.Equal(t, domain.StatusPickedUp, available[0].Status)
}

// TestLifecycle_Advance_DeliveredLeavesMine verifies terminal orders are
// dropped from Mine shortly after confirmation.
func TestLifecycle_Advance_DeliveredLeavesMine(t *testing.T) {
	store := &mockOrderStore{}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	mine := []domain.Order{{ID: "O4", Status: domain.StatusInTransit}}
	l := NewLifecycle(store, session, b, Options{Staleness: time.Hour, RemoveDelay: 5 * time.Millisecond})
	l.mine = mine
	l.availableFetched = time.Now()
	l.mineFetched = time.Now()

	order, err := l.Advance(context.Background(), "O4", domain.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, order.Status)

	// Visible briefly, then gone.
	assert.Eventually(t, func() bool {
		return len(l.ListMine(context.Background())) == 0
	}, time.Second, time.Millisecond)
}

// TestLifecycle_ListMine_NoAgent verifies graceful degradation to an empty
// list when nobody is authenticated.
func TestLifecycle_ListMine_NoAgent(t *testing.T) {
	store := &mockOrderStore{mine: seedOrders()}
	session := &mockSession{}
	b := bus.New()
	defer b.Close()

	l := NewLifecycle(store, session, b, Options{})

	mine := l.ListMine(context.Background())
	assert.Empty(t, mine)
	assert.Equal(t, 0, store.mutationCalls())
}

// TestLifecycle_ListAvailable_RefreshesWhenStale verifies the push-based
// background refresh fills the partition in place.
func TestLifecycle_ListAvailable_RefreshesWhenStale(t *testing.T) {
	store := &mockOrderStore{available: seedOrders()}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	l := NewLifecycle(store, session, b, Options{Staleness: time.Millisecond})

	// First call returns the best-known (empty) data and kicks a refresh.
	assert.Empty(t, l.ListAvailable(context.Background()))

	assert.Eventually(t, func() bool {
		return len(l.ListAvailable(context.Background())) == 3
	}, time.Second, time.Millisecond)
}

// TestLifecycle_Refresh_UnauthorizedForcesLogout verifies a 401 during a
// background refresh also takes the forced-logout path.
func TestLifecycle_Refresh_UnauthorizedForcesLogout(t *testing.T) {
	store := &mockOrderStore{listErr: apierr.ErrUnauthorized}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	logoutSeen := make(chan struct{}, 1)
	b.SubscribeLogout(func() { logoutSeen <- struct{}{} })

	l := NewLifecycle(store, session, b, Options{Staleness: time.Millisecond})
	l.ListAvailable(context.Background())

	select {
	case <-logoutSeen:
	case <-time.After(time.Second):
		t.Fatal("expected a logout broadcast after 401 refresh")
	}
	assert.True(t, session.wasCleared())
}

// TestLifecycle_LogoutBroadcastClearsPartitions verifies any logout
// broadcast, not just one the lifecycle itself triggers, empties the working set.
func TestLifecycle_LogoutBroadcastClearsPartitions(t *testing.T) {
	store := &mockOrderStore{}
	session := &mockSession{agentID: "agent-7"}
	b := bus.New()
	defer b.Close()

	mine := []domain.Order{{ID: "O9", Status: domain.StatusAccepted}}
	l := newTestLifecycle(store, session, b, seedOrders(), mine)

	b.PublishLogout()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.available)
	assert.Empty(t, l.mine)
}
