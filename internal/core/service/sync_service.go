package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oren0115/cartsync/internal/core/domain"
	"github.com/oren0115/cartsync/internal/port"
)

var (
	// ErrInvalidIntent rejects malformed intents at the orchestrator
	// boundary: empty product IDs, negative quantities, negative stock.
	ErrInvalidIntent = errors.New("invalid cart intent")

	// ErrClosed is returned for intents issued after Close.
	ErrClosed = errors.New("cart sync service closed")
)

type intentKind int

const (
	intentAdd intentKind = iota
	intentRemove
	intentSetQuantity
	intentClear
	intentReload
)

func (k intentKind) String() string {
	switch k {
	case intentAdd:
		return "add"
	case intentRemove:
		return "remove"
	case intentSetQuantity:
		return "set_quantity"
	case intentClear:
		return "clear"
	case intentReload:
		return "reload"
	}
	return "unknown"
}

type intent struct {
	id        string
	kind      intentKind
	product   domain.Product
	productID string
	quantity  int
	mode      Mode // reload only: the mode that triggered it
	done      chan intentResult
}

type intentResult struct {
	state domain.CartState
	err   error
}

func (it intent) reply(state domain.CartState, err error) {
	if it.done != nil {
		it.done <- intentResult{state: state, err: err}
	}
}

// SyncService is the cart sync orchestrator. It owns the in-memory
// CartState and the local store entry exclusively, decides per mutation
// whether to go through the remote gateway or apply locally, and
// serializes all intents for the cart through a single worker so a slow
// remote round trip can never be overtaken by a later intent.
type SyncService struct {
	gateway port.CartGateway
	store   port.CartStore
	session *SessionObserver
	logger  *zap.Logger

	queue chan intent
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.RWMutex
	state    domain.CartState
	degraded bool
	closed   bool
}

// NewSyncService wires the orchestrator and starts its worker. The
// current mode's snapshot (local store when anonymous, remote when
// authenticated) is adopted as the first queued intent, so the engine
// comes up with the last-known cart rather than losing it on restart.
func NewSyncService(gateway port.CartGateway, store port.CartStore, session *SessionObserver, logger *zap.Logger, queueSize int) *SyncService {
	if queueSize < 1 {
		queueSize = 64
	}
	s := &SyncService{
		gateway: gateway,
		store:   store,
		session: session,
		logger:  logger,
		queue:   make(chan intent, queueSize),
		done:    make(chan struct{}),
		state:   domain.EmptyCart(),
	}

	session.OnChange(s.enqueueReload)
	s.enqueueReload(session.Mode())

	s.wg.Add(1)
	go s.run()
	return s
}

// AddToCart adds quantity of product to the cart and returns the
// resulting snapshot. A zero quantity is a valid no-op.
func (s *SyncService) AddToCart(ctx context.Context, product domain.Product, quantity int) (domain.CartState, error) {
	if product.ID == "" || quantity < 0 || product.Stock < 0 {
		return s.State(), ErrInvalidIntent
	}
	return s.submit(ctx, intent{kind: intentAdd, product: product, quantity: quantity})
}

// RemoveFromCart deletes the product's line; removing an absent line is
// a no-op, not an error.
func (s *SyncService) RemoveFromCart(ctx context.Context, productID string) (domain.CartState, error) {
	if productID == "" {
		return s.State(), ErrInvalidIntent
	}
	return s.submit(ctx, intent{kind: intentRemove, productID: productID})
}

// UpdateQuantity sets an existing line's quantity, clamped into
// [1, stock]. Updating an absent line is a no-op.
func (s *SyncService) UpdateQuantity(ctx context.Context, productID string, quantity int) (domain.CartState, error) {
	if productID == "" {
		return s.State(), ErrInvalidIntent
	}
	return s.submit(ctx, intent{kind: intentSetQuantity, productID: productID, quantity: quantity})
}

// ClearCart resets the cart to the empty aggregate.
func (s *SyncService) ClearCart(ctx context.Context) (domain.CartState, error) {
	return s.submit(ctx, intent{kind: intentClear})
}

// State returns a copy of the current in-memory snapshot.
func (s *SyncService) State() domain.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Degraded reports whether the last authenticated mutation fell back to
// the local path; the in-memory cart may diverge from the server until
// the next successful sync.
func (s *SyncService) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Close drains the queue and stops the worker. Intents submitted after
// Close fail with ErrClosed. The queue channel is never closed; shutdown
// is signalled through done so a concurrent send can never panic.
func (s *SyncService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func (s *SyncService) submit(ctx context.Context, it intent) (domain.CartState, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return s.State(), ErrClosed
	}

	it.id = uuid.NewString()
	it.done = make(chan intentResult, 1)

	select {
	case s.queue <- it:
	case <-s.done:
		return s.State(), ErrClosed
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}

	select {
	case res := <-it.done:
		return res.state, res.err
	case <-s.done:
		// The shutdown drain may still have replied; prefer the result.
		select {
		case res := <-it.done:
			return res.state, res.err
		default:
			return s.State(), ErrClosed
		}
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// enqueueReload queues a snapshot reload for the given mode. Reloads go
// through the same FIFO queue as mutations, so a mode switch can never
// interleave with a half-finished mutate-then-refetch cycle.
func (s *SyncService) enqueueReload(mode Mode) {
	it := intent{id: uuid.NewString(), kind: intentReload, mode: mode}
	select {
	case s.queue <- it:
	default:
		// A 401 invalidates the session from inside the worker; the
		// worker must not block on its own full queue.
		go func() {
			select {
			case s.queue <- it:
			case <-s.done:
			}
		}()
	}
}

func (s *SyncService) run() {
	defer s.wg.Done()
	for {
		select {
		case it := <-s.queue:
			s.process(context.Background(), it)
		case <-s.done:
			// Drain what was accepted before shutdown, then stop.
			for {
				select {
				case it := <-s.queue:
					s.process(context.Background(), it)
				default:
					return
				}
			}
		}
	}
}

func (s *SyncService) process(ctx context.Context, it intent) {
	if it.kind == intentReload {
		s.reload(ctx, it.mode)
		return
	}

	if s.session.Mode() == ModeAuthenticated {
		s.processRemote(ctx, it)
		return
	}

	it.reply(s.applyLocal(ctx, it, false), nil)
}

// processRemote runs the two-phase protocol: mutate remotely, then
// refetch and adopt the authoritative snapshot. Client-side arithmetic is
// never trusted for an authenticated cart.
func (s *SyncService) processRemote(ctx context.Context, it intent) {
	err := s.dispatch(ctx, it)
	if err == nil {
		var snap domain.CartState
		snap, err = s.gateway.FetchSnapshot(ctx)
		if err == nil {
			it.reply(s.adopt(ctx, snap), nil)
			return
		}
	}

	if errors.Is(err, domain.ErrUnauthorized) {
		s.logger.Warn("remote cart rejected session, re-evaluating mode",
			zap.String("intent", it.kind.String()),
			zap.String("intent_id", it.id))
		s.session.Invalidate()
		// Not applied anywhere; the caller re-issues after re-auth.
		it.reply(s.State(), domain.ErrUnauthorized)
		return
	}

	s.logger.Warn("remote cart unavailable, applying mutation locally",
		zap.String("intent", it.kind.String()),
		zap.String("intent_id", it.id),
		zap.Error(err))
	it.reply(s.applyLocal(ctx, it, true), nil)
}

func (s *SyncService) dispatch(ctx context.Context, it intent) error {
	switch it.kind {
	case intentAdd:
		return s.gateway.AddItem(ctx, it.product, it.quantity)
	case intentRemove:
		return s.gateway.RemoveItem(ctx, it.productID)
	case intentSetQuantity:
		return s.gateway.SetQuantity(ctx, it.productID, it.quantity)
	case intentClear:
		return s.gateway.Clear(ctx)
	}
	return nil
}

func (s *SyncService) transition(it intent) domain.Transition {
	switch it.kind {
	case intentAdd:
		return domain.AddItem{Product: it.product, Quantity: it.quantity}
	case intentRemove:
		return domain.RemoveItem{ProductID: it.productID}
	case intentSetQuantity:
		return domain.UpdateQuantity{ProductID: it.productID, Quantity: it.quantity}
	case intentClear:
		return domain.Clear{}
	}
	return nil
}

// applyLocal applies the intent against the last-known in-memory state
// and writes the result through to the local store.
func (s *SyncService) applyLocal(ctx context.Context, it intent, degraded bool) domain.CartState {
	tr := s.transition(it)

	s.mu.Lock()
	s.state = domain.Apply(s.state, tr)
	s.degraded = degraded
	state := s.state.Clone()
	s.mu.Unlock()

	s.writeThrough(ctx, state)
	return state
}

// adopt replaces the in-memory state with an authoritative snapshot and
// backs it up locally. Aggregates are re-derived by the reducer.
func (s *SyncService) adopt(ctx context.Context, snap domain.CartState) domain.CartState {
	s.mu.Lock()
	s.state = domain.Apply(s.state, domain.LoadSnapshot{Snapshot: snap})
	s.degraded = false
	state := s.state.Clone()
	s.mu.Unlock()

	s.writeThrough(ctx, state)
	return state
}

func (s *SyncService) reload(ctx context.Context, mode Mode) {
	switch mode {
	case ModeAuthenticated:
		// The anonymous cart is superseded, not merged: discard the
		// in-memory state before fetching so a fetch failure cannot
		// resurrect it under an authenticated session.
		s.mu.Lock()
		s.state = domain.EmptyCart()
		s.mu.Unlock()

		snap, err := s.gateway.FetchSnapshot(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				s.logger.Warn("cart reload rejected, dropping to anonymous")
				s.session.Invalidate()
				return
			}
			s.logger.Warn("cart reload failed, starting degraded", zap.Error(err))
			s.mu.Lock()
			s.degraded = true
			s.mu.Unlock()
			return
		}
		s.adopt(ctx, snap)

	case ModeAnonymous:
		stored, err := s.store.Read(ctx)
		if err != nil {
			s.logger.Warn("local cart read failed, starting empty", zap.Error(err))
			stored = nil
		}
		snap := domain.EmptyCart()
		if stored != nil {
			snap = *stored
		}
		s.mu.Lock()
		s.state = domain.Apply(s.state, domain.LoadSnapshot{Snapshot: snap})
		s.degraded = false
		s.mu.Unlock()
	}
}

// writeThrough backs the snapshot up to the local store. Fire-and-forget:
// a failed backup write is logged, never surfaced.
func (s *SyncService) writeThrough(ctx context.Context, state domain.CartState) {
	if err := s.store.Write(ctx, state); err != nil {
		s.logger.Warn("local cart write failed", zap.Error(err))
	}
}
