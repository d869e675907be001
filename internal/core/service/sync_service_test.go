package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/oren0115/cartsync/internal/core/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Mock CartGateway: maintains its own server-side cart so refetch-and-
// adopt can be observed, and can be forced into a failure mode.
type mockGateway struct {
	mu       sync.Mutex
	cart     domain.CartState
	failWith error
	delay    time.Duration
	calls    []string
}

func newMockGateway() *mockGateway {
	return &mockGateway{cart: domain.EmptyCart()}
}

func (m *mockGateway) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *mockGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockGateway) seed(state domain.CartState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = state
}

func (m *mockGateway) begin(name string) error {
	m.mu.Lock()
	delay := m.delay
	m.calls = append(m.calls, name)
	err := m.failWith
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (m *mockGateway) FetchSnapshot(ctx context.Context) (domain.CartState, error) {
	if err := m.begin("fetch"); err != nil {
		return domain.CartState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone(), nil
}

func (m *mockGateway) AddItem(ctx context.Context, product domain.Product, quantity int) error {
	if err := m.begin("add"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = domain.Apply(m.cart, domain.AddItem{Product: product, Quantity: quantity})
	return nil
}

func (m *mockGateway) RemoveItem(ctx context.Context, productID string) error {
	if err := m.begin("remove"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = domain.Apply(m.cart, domain.RemoveItem{ProductID: productID})
	return nil
}

func (m *mockGateway) SetQuantity(ctx context.Context, productID string, quantity int) error {
	if err := m.begin("set"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = domain.Apply(m.cart, domain.UpdateQuantity{ProductID: productID, Quantity: quantity})
	return nil
}

func (m *mockGateway) Clear(ctx context.Context) error {
	if err := m.begin("clear"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = domain.EmptyCart()
	return nil
}

// Mock CartStore
type mockStore struct {
	mu       sync.Mutex
	snapshot *domain.CartState
	readErr  error
	writeErr error
	writes   int
}

func (m *mockStore) Read(ctx context.Context) (*domain.CartState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.snapshot == nil {
		return nil, nil
	}
	copied := m.snapshot.Clone()
	return &copied, nil
}

func (m *mockStore) Write(ctx context.Context, state domain.CartState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	copied := state.Clone()
	m.snapshot = &copied
	m.writes++
	return nil
}

func (m *mockStore) stored(t *testing.T) domain.CartState {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		t.Fatal("expected a persisted snapshot")
	}
	return m.snapshot.Clone()
}

func testProduct(id string, stock int) domain.Product {
	return domain.Product{
		ID:              id,
		Name:            "product " + id,
		Price:           125,
		DiscountedPrice: 100,
		DiscountPercent: 20,
		Images:          []string{"https://cdn.example.com/" + id + ".jpg"},
		Stock:           stock,
	}
}

func newTestService(t *testing.T, gw *mockGateway, store *mockStore) (*SyncService, *SessionObserver) {
	t.Helper()
	session := NewSessionObserver()
	svc := NewSyncService(gw, store, session, zap.NewNop(), 16)
	t.Cleanup(svc.Close)
	return svc, session
}

// waitFor polls until the condition holds or the deadline passes.
// Reloads triggered by mode transitions resolve asynchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAnonymous_AppliesLocallyAndWritesThrough(t *testing.T) {
	gw := newMockGateway()
	store := &mockStore{}
	svc, _ := newTestService(t, gw, store)

	state, err := svc.AddToCart(context.Background(), testProduct("a", 10), 2)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if len(state.Items) != 1 || state.Items[0].Quantity != 2 {
		t.Fatalf("unexpected state: %+v", state)
	}
	if got := gw.callCount(); got != 0 {
		t.Errorf("anonymous mode must never call the gateway, got %d calls", got)
	}

	stored := store.stored(t)
	if stored.TotalItems != 2 {
		t.Errorf("expected write-through of 2 items, got %d", stored.TotalItems)
	}
}

func TestAnonymous_IntentSequenceKeepsInvariants(t *testing.T) {
	gw := newMockGateway()
	store := &mockStore{}
	svc, _ := newTestService(t, gw, store)
	ctx := context.Background()

	svc.AddToCart(ctx, testProduct("a", 5), 10) // clamps to 5
	svc.AddToCart(ctx, testProduct("b", 3), 1)
	svc.UpdateQuantity(ctx, "a", 0) // floors at 1
	state, _ := svc.RemoveFromCart(ctx, "b")

	if len(state.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(state.Items))
	}
	if state.Items[0].Quantity != 1 {
		t.Errorf("expected quantity floored to 1, got %d", state.Items[0].Quantity)
	}
	if state.TotalItems != 1 || state.Total != 100 {
		t.Errorf("aggregates not rederived: %+v", state)
	}

	state, _ = svc.ClearCart(ctx)
	if len(state.Items) != 0 || state.TotalItems != 0 {
		t.Errorf("clear did not reset: %+v", state)
	}
}

func TestAuthenticated_AdoptsRefetchedSnapshot(t *testing.T) {
	gw := newMockGateway()
	// The server cart already holds a line added from another device;
	// adopting the refetched snapshot must surface it.
	gw.seed(domain.Apply(domain.EmptyCart(), domain.AddItem{Product: testProduct("other", 9), Quantity: 1}))

	store := &mockStore{}
	svc, session := newTestService(t, gw, store)
	session.SetAuthenticated(true)

	state, err := svc.AddToCart(context.Background(), testProduct("a", 10), 2)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if len(state.Items) != 2 {
		t.Fatalf("expected the server's view (2 lines), got %+v", state)
	}
	if svc.Degraded() {
		t.Error("successful sync must clear the degraded flag")
	}

	stored := store.stored(t)
	if stored.TotalItems != state.TotalItems {
		t.Errorf("write-through mismatch: stored %d, state %d", stored.TotalItems, state.TotalItems)
	}
}

func TestAuthenticated_FallsBackLocallyWhenUnreachable(t *testing.T) {
	gw := newMockGateway()
	store := &mockStore{}
	svc, session := newTestService(t, gw, store)
	session.SetAuthenticated(true)
	waitFor(t, func() bool { return gw.callCount() >= 1 }) // login reload

	gw.fail(domain.ErrUnreachable)

	state, err := svc.AddToCart(context.Background(), testProduct("a", 10), 2)
	if err != nil {
		t.Fatalf("fallback must not surface an error, got: %v", err)
	}

	if len(state.Items) != 1 || state.Items[0].ProductID != "a" || state.Items[0].Quantity != 2 {
		t.Fatalf("expected local fallback state with a=2, got %+v", state)
	}
	if !svc.Degraded() {
		t.Error("expected degraded flag after fallback")
	}

	stored := store.stored(t)
	if stored.TotalItems != 2 {
		t.Errorf("write-through must reflect the fallback state, got %d items", stored.TotalItems)
	}
}

func TestAuthenticated_ValidationRejectedDegrades(t *testing.T) {
	gw := newMockGateway()
	store := &mockStore{}
	svc, session := newTestService(t, gw, store)
	session.SetAuthenticated(true)
	waitFor(t, func() bool { return gw.callCount() >= 1 })

	gw.fail(domain.ErrValidationRejected)

	state, err := svc.AddToCart(context.Background(), testProduct("a", 10), 2)
	if err != nil {
		t.Fatalf("rejection must degrade, not fail: %v", err)
	}
	if len(state.Items) != 1 {
		t.Fatalf("expected local apply, got %+v", state)
	}
}

func TestAuthenticated_UnauthorizedIsNotApplied(t *testing.T) {
	gw := newMockGateway()
	store := &mockStore{}
	svc, session := newTestService(t, gw, store)
	session.SetAuthenticated(true)
	waitFor(t, func() bool { return gw.callCount() >= 1 })

	gw.fail(domain.ErrUnauthorized)

	state, err := svc.AddToCart(context.Background(), testProduct("a", 10), 2)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got: %v", err)
	}
	if len(state.Items) != 0 {
		t.Errorf("unauthorized mutation must not be applied, got %+v", state)
	}

	// The observer was handed the escalation and dropped to anonymous.
	waitFor(t, func() bool { return session.Mode() == ModeAnonymous })
}

func TestModeSwitch_LoginSupersedesAnonymousCart(t *testing.T) {
	gw := newMockGateway()
	gw.seed(domain.Apply(domain.EmptyCart(), domain.AddItem{Product: testProduct("remote", 4), Quantity: 1}))

	store := &mockStore{}
	svc, session := newTestService(t, gw, store)
	ctx := context.Background()

	svc.AddToCart(ctx, testProduct("anon-1", 5), 1)
	svc.AddToCart(ctx, testProduct("anon-2", 5), 2)

	session.SetAuthenticated(true)

	// Superseded, not merged: only the remote line remains.
	waitFor(t, func() bool {
		s := svc.State()
		return len(s.Items) == 1 && s.Items[0].ProductID == "remote"
	})
}

func TestModeSwitch_LogoutAdoptsLocalSnapshot(t *testing.T) {
	gw := newMockGateway()
	gw.seed(domain.Apply(domain.EmptyCart(), domain.AddItem{Product: testProduct("remote", 4), Quantity: 2}))

	store := &mockStore{}
	svc, session := newTestService(t, gw, store)

	session.SetAuthenticated(true)
	waitFor(t, func() bool { return svc.State().TotalItems == 2 })

	// The authoritative snapshot was written through; logout adopts it.
	session.SetAuthenticated(false)
	waitFor(t, func() bool {
		s := svc.State()
		return len(s.Items) == 1 && s.Items[0].ProductID == "remote" && session.Mode() == ModeAnonymous
	})
}

func TestModeSwitch_LoginFetchFailureStartsDegradedEmpty(t *testing.T) {
	gw := newMockGateway()
	store := &mockStore{}
	svc, session := newTestService(t, gw, store)

	svc.AddToCart(context.Background(), testProduct("anon", 5), 1)

	gw.fail(domain.ErrUnreachable)
	session.SetAuthenticated(true)

	// The anonymous cart must not be resurrected under the session.
	waitFor(t, func() bool { return svc.Degraded() })
	if got := svc.State(); len(got.Items) != 0 {
		t.Errorf("expected empty cart after failed login reload, got %+v", got)
	}
}

func TestOrdering_RemoveQueuedBehindSlowAdd(t *testing.T) {
	gw := newMockGateway()
	gw.delay = 30 * time.Millisecond

	store := &mockStore{}
	svc, session := newTestService(t, gw, store)
	session.SetAuthenticated(true)
	waitFor(t, func() bool { return gw.callCount() >= 1 })

	ctx := context.Background()
	p := testProduct("p", 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.AddToCart(ctx, p, 1)
	}()

	// Wait until the add's remote round trip is in flight (call 1 is the
	// login reload), then queue the remove behind it.
	waitFor(t, func() bool { return gw.callCount() >= 2 })
	state, err := svc.RemoveFromCart(ctx, "p")
	wg.Wait()

	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(state.Items) != 0 {
		t.Fatalf("remove must land after the in-flight add, got %+v", state)
	}
	if final := svc.State(); len(final.Items) != 0 {
		t.Fatalf("deleted line resurrected: %+v", final)
	}
}

func TestStartup_RestoresPersistedAnonymousCart(t *testing.T) {
	seeded := domain.Apply(domain.EmptyCart(), domain.AddItem{Product: testProduct("saved", 5), Quantity: 3})
	store := &mockStore{snapshot: &seeded}

	svc, _ := newTestService(t, newMockGateway(), store)

	waitFor(t, func() bool {
		s := svc.State()
		return len(s.Items) == 1 && s.Items[0].Quantity == 3
	})
}

func TestStartup_CorruptStoreDegradesToEmpty(t *testing.T) {
	store := &mockStore{readErr: domain.ErrCorruptLocalState}
	svc, _ := newTestService(t, newMockGateway(), store)

	state, err := svc.AddToCart(context.Background(), testProduct("a", 5), 1)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if len(state.Items) != 1 {
		t.Fatalf("engine must keep working over a corrupt store, got %+v", state)
	}
}

func TestBoundaryValidation(t *testing.T) {
	svc, _ := newTestService(t, newMockGateway(), &mockStore{})
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, domain.Product{}, 1); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("empty product ID: expected ErrInvalidIntent, got %v", err)
	}
	if _, err := svc.AddToCart(ctx, testProduct("a", 5), -1); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("negative quantity: expected ErrInvalidIntent, got %v", err)
	}
	if _, err := svc.RemoveFromCart(ctx, ""); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("empty product ID: expected ErrInvalidIntent, got %v", err)
	}
	if _, err := svc.UpdateQuantity(ctx, "", 2); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("empty product ID: expected ErrInvalidIntent, got %v", err)
	}
}

func TestClose_RejectsFurtherIntents(t *testing.T) {
	svc, _ := newTestService(t, newMockGateway(), &mockStore{})
	svc.Close()

	if _, err := svc.AddToCart(context.Background(), testProduct("a", 5), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestClose_SafeWithPendingModeSwitchReload(t *testing.T) {
	gw := newMockGateway()
	gw.delay = 50 * time.Millisecond

	session := NewSessionObserver()
	svc := NewSyncService(gw, &mockStore{}, session, zap.NewNop(), 1)

	// Park the worker on the login reload's slow fetch, then fill the
	// single queue slot with a mutation so the logout reload has to wait
	// for queue space. Closing in that state must neither panic nor leak
	// the waiting goroutine.
	session.SetAuthenticated(true)
	waitFor(t, func() bool { return gw.callCount() >= 1 })

	addDone := make(chan struct{})
	go func() {
		defer close(addDone)
		svc.AddToCart(context.Background(), testProduct("a", 5), 1)
	}()
	time.Sleep(10 * time.Millisecond)

	session.SetAuthenticated(false)
	svc.Close()
	<-addDone

	if _, err := svc.AddToCart(context.Background(), testProduct("b", 5), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after shutdown, got %v", err)
	}
}
