package cart

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func newEngine(t *testing.T, backend *fakeBackend) (*SyncEngine, *Store, *recordingPublisher) {
	t.Helper()
	store := NewStore(backend, nil, nil)
	require.NoError(t, store.Load(context.Background()))
	publisher := &recordingPublisher{}
	return NewSyncEngine(store, backend, backend, publisher, nil, nil), store, publisher
}

func TestAddItem_NewProduct(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	engine, store, publisher := newEngine(t, backend)

	require.NoError(t, engine.AddItem(context.Background(), 1, 2))

	assert.Equal(t, 2, store.Get().Quantity(1))
	assert.Equal(t, []events.EventType{events.CartItemAdded}, publisher.types())
}

func TestAddItem_IsCumulative(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	backend.setLine(1, 2)
	engine, store, _ := newEngine(t, backend)

	require.NoError(t, engine.AddItem(context.Background(), 1, 3))

	assert.Equal(t, 5, store.Get().Quantity(1))
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	engine, _, _ := newEngine(t, backend)

	assert.ErrorIs(t, engine.AddItem(context.Background(), 1, 0), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, engine.AddItem(context.Background(), 1, -2), domain.ErrInvalidQuantity)
	assert.Zero(t, backend.callCount("add"))
}

func TestAddItem_AtStockCeiling(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 2))
	backend.setLine(1, 2)
	engine, store, publisher := newEngine(t, backend)
	before := store.Get()

	err := engine.AddItem(context.Background(), 1, 1)

	assert.ErrorIs(t, err, domain.ErrStockExceeded)
	var stockErr *domain.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, before, store.Get())
	assert.Zero(t, backend.callCount("add"), "client-side check rejects before the round trip")
	assert.Empty(t, publisher.types())
}

func TestAddItem_RemoteStockRejectionRollsBackAndRefreshes(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	backend.setLine(1, 1)
	engine, store, _ := newEngine(t, backend)
	// stock dropped on the server since our last sync
	backend.setStock(1, 1)

	err := engine.AddItem(context.Background(), 1, 1)

	assert.ErrorIs(t, err, domain.ErrStockExceeded)
	entry, ok := store.Get().Entry(1)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Quantity)
	assert.Equal(t, 1, entry.Product.Stock, "reload picks up the authority's stock")
	assert.Equal(t, 1, backend.invalidated)
}

func TestAddItem_UnknownProduct(t *testing.T) {
	backend := newFakeBackend()
	engine, store, _ := newEngine(t, backend)

	err := engine.AddItem(context.Background(), 42, 1)

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, store.Get().IsEmpty())
}

func TestSetItemQuantity(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	backend.setLine(1, 1)
	engine, store, publisher := newEngine(t, backend)

	require.NoError(t, engine.SetItemQuantity(context.Background(), 1, 4))

	assert.Equal(t, 4, store.Get().Quantity(1))
	assert.Equal(t, []events.EventType{events.CartItemUpdated}, publisher.types())
}

func TestSetItemQuantity_AboveStock(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 3))
	backend.setLine(1, 1)
	engine, store, _ := newEngine(t, backend)

	err := engine.SetItemQuantity(context.Background(), 1, 4)

	assert.ErrorIs(t, err, domain.ErrStockExceeded)
	assert.Equal(t, 1, store.Get().Quantity(1))
	assert.Zero(t, backend.callCount("update"))
}

func TestSetItemQuantity_ZeroIsRemove(t *testing.T) {
	setBackend := newFakeBackend(product(1, 100, 5), product(2, 10, 5))
	setBackend.setLine(1, 2)
	setBackend.setLine(2, 1)
	setEngine, setStore, _ := newEngine(t, setBackend)

	removeBackend := newFakeBackend(product(1, 100, 5), product(2, 10, 5))
	removeBackend.setLine(1, 2)
	removeBackend.setLine(2, 1)
	removeEngine, removeStore, _ := newEngine(t, removeBackend)

	require.NoError(t, setEngine.SetItemQuantity(context.Background(), 1, 0))
	require.NoError(t, removeEngine.RemoveItem(context.Background(), 1))

	assert.Equal(t, removeStore.Get(), setStore.Get())
	assert.Equal(t, 1, setBackend.callCount("remove"))
	assert.Zero(t, setBackend.callCount("update"))
}

func TestRemoveItem_AbsentIsNoop(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	backend.setLine(1, 2)
	engine, store, _ := newEngine(t, backend)
	before := store.Get()

	require.NoError(t, engine.RemoveItem(context.Background(), 9))
	require.NoError(t, engine.RemoveItem(context.Background(), 9))

	assert.Equal(t, before.Entries(), store.Get().Entries())
}

func TestRemoveItem_DoubleClick(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	backend.setLine(1, 2)
	engine, store, _ := newEngine(t, backend)

	require.NoError(t, engine.RemoveItem(context.Background(), 1))
	require.NoError(t, engine.RemoveItem(context.Background(), 1))

	assert.True(t, store.Get().IsEmpty())
}

func TestUpdate_NetworkFailureRollsBack(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	backend.setLine(1, 2)
	engine, store, publisher := newEngine(t, backend)
	backend.failNext["update"] = fmt.Errorf("%w: PATCH /cart/update/1: connection reset", domain.ErrRemoteUnavailable)

	err := engine.SetItemQuantity(context.Background(), 1, 4)

	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	assert.Equal(t, 2, store.Get().Quantity(1))
	assert.Empty(t, publisher.types())
}

func TestAdd_NetworkFailureRemovesOptimisticLine(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	engine, store, _ := newEngine(t, backend)
	backend.failNext["add"] = fmt.Errorf("%w: timeout", domain.ErrRemoteUnavailable)

	err := engine.AddItem(context.Background(), 1, 1)

	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	_, ok := store.Get().Entry(1)
	assert.False(t, ok)
}

func TestRollback_TouchesOnlyFailedLine(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5), product(2, 10, 5))
	backend.setLine(1, 1)
	backend.setLine(2, 1)
	engine, store, _ := newEngine(t, backend)
	// an optimistic line for product 2 that has not been reloaded yet
	store.setEntry(domain.CartEntry{ProductID: 2, Quantity: 3, Product: product(2, 10, 5)})
	backend.failNext["update"] = fmt.Errorf("%w: boom", domain.ErrRemoteUnavailable)

	_ = engine.SetItemQuantity(context.Background(), 1, 2)

	assert.Equal(t, 1, store.Get().Quantity(1))
	assert.Equal(t, 3, store.Get().Quantity(2))
}

func TestMutation_UnauthenticatedResetsCart(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	backend.setLine(1, 1)
	engine, store, _ := newEngine(t, backend)
	backend.mu.Lock()
	backend.unauth = true
	backend.mu.Unlock()

	err := engine.SetItemQuantity(context.Background(), 1, 2)

	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.True(t, store.Get().IsEmpty())
}

func TestMutation_FailedReloadKeepsWrite(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	engine, store, _ := newEngine(t, backend)
	backend.failNext["get"] = fmt.Errorf("%w: boom", domain.ErrRemoteUnavailable)

	require.NoError(t, engine.AddItem(context.Background(), 1, 2))

	assert.Equal(t, 2, store.Get().Quantity(1))
}

func TestClear(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5), product(2, 10, 5))
	backend.setLine(1, 1)
	backend.setLine(2, 1)
	engine, store, publisher := newEngine(t, backend)

	require.NoError(t, engine.Clear(context.Background()))

	assert.True(t, store.Get().IsEmpty())
	assert.Equal(t, []events.EventType{events.CartCleared}, publisher.types())
}

func TestClear_FailureRestoresCart(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 5))
	backend.setLine(1, 1)
	engine, store, _ := newEngine(t, backend)
	before := store.Get()
	backend.failNext["clear"] = fmt.Errorf("%w: boom", domain.ErrRemoteUnavailable)

	err := engine.Clear(context.Background())

	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	assert.Equal(t, before.Entries(), store.Get().Entries())
}

func TestSameProductMutationsAreSerialized(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 10), product(2, 10, 10))
	engine, store, _ := newEngine(t, backend)
	release := backend.hold("add")

	first := make(chan error, 1)
	go func() { first <- engine.AddItem(context.Background(), 1, 1) }()
	<-backend.entered
	assert.True(t, engine.InFlight(1))
	assert.False(t, engine.InFlight(2))

	second := make(chan error, 1)
	go func() { second <- engine.SetItemQuantity(context.Background(), 1, 5) }()

	// a different product is not held up
	other := make(chan error, 1)
	go func() { other <- engine.RemoveItem(context.Background(), 2) }()
	select {
	case err := <-other:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mutation on another product was blocked")
	}

	select {
	case <-second:
		t.Fatal("second mutation on the same product ran while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, backend.callCount("update"))

	release()
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	assert.Equal(t, 5, store.Get().Quantity(1), "the later mutation wins")
	assert.False(t, engine.InFlight(1))
}

func TestMutation_ContextCancelledWhileWaiting(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 10))
	engine, _, _ := newEngine(t, backend)
	release := backend.hold("add")
	defer release()

	go func() { _ = engine.AddItem(context.Background(), 1, 1) }()
	<-backend.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := engine.AddItem(ctx, 1, 1)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualError(t, err, "add item 1: context deadline exceeded")
}

type blockingPublisher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

// Publish blocks the first call until release is closed.
func (p *blockingPublisher) Publish(context.Context, events.Event) {
	if p.calls.Add(1) == 1 {
		close(p.entered)
		<-p.release
	}
}

func TestSlowPublisherDoesNotHoldProductLock(t *testing.T) {
	backend := newFakeBackend(product(1, 100, 10))
	store := NewStore(backend, nil, nil)
	require.NoError(t, store.Load(context.Background()))
	publisher := &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	engine := NewSyncEngine(store, backend, backend, publisher, nil, nil)

	first := make(chan error, 1)
	go func() { first <- engine.AddItem(context.Background(), 1, 1) }()
	<-publisher.entered
	assert.False(t, engine.InFlight(1))

	second := make(chan error, 1)
	go func() { second <- engine.SetItemQuantity(context.Background(), 1, 3) }()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mutation waited for the previous mutation's event")
	}
	assert.Equal(t, 3, store.Get().Quantity(1))

	close(publisher.release)
	require.NoError(t, <-first)
}

func TestCachedQuantityNeverExceedsKnownStock(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	backend := newFakeBackend(product(1, 100, 3), product(2, 50, 1), product(3, 10, 6))
	engine, store, _ := newEngine(t, backend)
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		id := int64(rng.Intn(3) + 1)
		switch rng.Intn(4) {
		case 0:
			_ = engine.AddItem(ctx, id, rng.Intn(3)+1)
		case 1:
			_ = engine.SetItemQuantity(ctx, id, rng.Intn(8)-1)
		case 2:
			backend.setStock(id, rng.Intn(7))
		case 3:
			_ = engine.RemoveItem(ctx, id)
		}

		for _, entry := range store.Get().Entries() {
			assert.LessOrEqual(t, entry.Quantity, entry.Product.Stock, "step %d product %d", i, entry.ProductID)
		}
	}
}
