package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Authority is the remote, authoritative cart.
type Authority interface {
	AddItem(ctx context.Context, productID int64, quantity int) error
	UpdateItem(ctx context.Context, productID int64, quantity int) error
	RemoveItem(ctx context.Context, productID int64) error
	ClearCart(ctx context.Context) error
}

// ProductLookup supplies stock figures for products not yet in the cart.
type ProductLookup interface {
	Product(ctx context.Context, productID int64) (*domain.ProductSnapshot, error)
	Invalidate(ctx context.Context)
}

const (
	opAdd    = "add"
	opSet    = "set"
	opRemove = "remove"
	opClear  = "clear"
)

// SyncEngine runs every cart mutation against the authority.
//
// A mutation is checked against the last known stock, applied optimistically to its own
// line, sent to the authority and followed by a reload. On failure only that line is put
// back. Mutations on the same product wait for each other; different products do not.
type SyncEngine struct {
	store     *Store
	authority Authority
	products  ProductLookup
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *log.Entry
	locks     *keyedMutex
}

func NewSyncEngine(store *Store, authority Authority, products ProductLookup, publisher events.Publisher, m *metrics.Metrics, logger *log.Entry) *SyncEngine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &SyncEngine{
		store:     store,
		authority: authority,
		products:  products,
		publisher: publisher,
		metrics:   m,
		logger:    logger.WithField("component", "cart_sync"),
		locks:     newKeyedMutex(),
	}
}

// InFlight reports whether a mutation for productID is outstanding.
func (e *SyncEngine) InFlight(productID int64) bool {
	return e.locks.Held(productID)
}

// AddItem adds quantity units of productID on top of what the cart already holds.
func (e *SyncEngine) AddItem(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	return e.mutate(ctx, opAdd, productID, func() (events.Event, error) {
		prev, had := e.store.Get().Entry(productID)
		product, err := e.knownProduct(ctx, prev, had, productID)
		if err != nil {
			e.metrics.RecordCartMutation(opAdd, outcomeOf(err))
			return events.Event{}, fmt.Errorf("add item %d: %w", productID, err)
		}

		want := prev.Quantity + quantity
		if !product.InStock(want) {
			e.metrics.RecordCartMutation(opAdd, metrics.OutcomeStockExceeded)
			return events.Event{}, &domain.StockError{ProductID: productID, Requested: want, Available: product.Stock}
		}

		e.store.setEntry(domain.CartEntry{ProductID: productID, Quantity: want, Product: product})
		if err := e.authority.AddItem(ctx, productID, quantity); err != nil {
			return events.Event{}, e.fail(ctx, opAdd, productID, prev, had, err)
		}

		e.succeed(ctx, opAdd)
		return events.Event{Type: events.CartItemAdded, ProductID: productID, Quantity: want}, nil
	})
}

// SetItemQuantity sets the line for productID to quantity. Zero or less removes the line.
func (e *SyncEngine) SetItemQuantity(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return e.RemoveItem(ctx, productID)
	}
	return e.mutate(ctx, opSet, productID, func() (events.Event, error) {
		prev, had := e.store.Get().Entry(productID)
		product, err := e.knownProduct(ctx, prev, had, productID)
		if err != nil {
			e.metrics.RecordCartMutation(opSet, outcomeOf(err))
			return events.Event{}, fmt.Errorf("set item %d: %w", productID, err)
		}
		if !product.InStock(quantity) {
			e.metrics.RecordCartMutation(opSet, metrics.OutcomeStockExceeded)
			return events.Event{}, &domain.StockError{ProductID: productID, Requested: quantity, Available: product.Stock}
		}

		e.store.setEntry(domain.CartEntry{ProductID: productID, Quantity: quantity, Product: product})
		if err := e.authority.UpdateItem(ctx, productID, quantity); err != nil {
			return events.Event{}, e.fail(ctx, opSet, productID, prev, had, err)
		}

		e.succeed(ctx, opSet)
		return events.Event{Type: events.CartItemUpdated, ProductID: productID, Quantity: quantity}, nil
	})
}

// RemoveItem drops the line for productID. Removing a product that is not in the cart succeeds.
func (e *SyncEngine) RemoveItem(ctx context.Context, productID int64) error {
	return e.mutate(ctx, opRemove, productID, func() (events.Event, error) {
		prev, had := e.store.Get().Entry(productID)
		e.store.dropEntry(productID)

		err := e.authority.RemoveItem(ctx, productID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return events.Event{}, e.fail(ctx, opRemove, productID, prev, had, err)
		}

		e.succeed(ctx, opRemove)
		return events.Event{Type: events.CartItemRemoved, ProductID: productID}, nil
	})
}

// mutate runs fn while holding productID's lock and publishes fn's event once the lock is released.
func (e *SyncEngine) mutate(ctx context.Context, op string, productID int64, fn func() (events.Event, error)) error {
	if err := e.locks.Lock(ctx, productID); err != nil {
		e.metrics.RecordCartMutation(op, metrics.OutcomeFailed)
		return fmt.Errorf("%s item %d: %w", op, productID, err)
	}
	event, err := func() (events.Event, error) {
		defer e.locks.Unlock(productID)
		return fn()
	}()
	if err != nil {
		return err
	}

	e.publisher.Publish(ctx, event)
	return nil
}

// Clear empties the remote cart and the cached one.
func (e *SyncEngine) Clear(ctx context.Context) error {
	prev := e.store.Get()
	e.store.Replace(domain.Cart{})

	if err := e.authority.ClearCart(ctx); err != nil {
		e.metrics.RecordCartMutation(opClear, outcomeOf(err))
		if errors.Is(err, domain.ErrUnauthenticated) {
			e.store.Reset()
			return fmt.Errorf("clear cart: %w", domain.ErrUnauthenticated)
		}
		e.store.Replace(prev)
		e.logger.WithError(err).Warn("clear cart failed, restored previous cart")
		return fmt.Errorf("clear cart: %w", err)
	}

	e.succeed(ctx, opClear)
	e.publisher.Publish(ctx, events.Event{Type: events.CartCleared})
	return nil
}

// knownProduct returns the most recent product snapshot the client has for productID.
// A line the backend returned without product data is looked up in the catalog.
func (e *SyncEngine) knownProduct(ctx context.Context, prev domain.CartEntry, had bool, productID int64) (domain.ProductSnapshot, error) {
	if had && prev.Product.Known() {
		return prev.Product, nil
	}
	product, err := e.products.Product(ctx, productID)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}
	return *product, nil
}

func (e *SyncEngine) succeed(ctx context.Context, op string) {
	e.metrics.RecordCartMutation(op, metrics.OutcomeSuccess)

	// the write is done; a failed reload only leaves the optimistic line in place until the next load
	if err := e.store.reload(ctx); err != nil {
		e.logger.WithError(err).WithField("op", op).Warn("reload after mutation failed")
	}
}

// fail undoes the optimistic change for productID and reports err.
func (e *SyncEngine) fail(ctx context.Context, op string, productID int64, prev domain.CartEntry, had bool, err error) error {
	e.metrics.RecordCartMutation(op, outcomeOf(err))
	logger := e.logger.WithError(err).WithFields(log.Fields{"op": op, "product_id": productID})

	if errors.Is(err, domain.ErrUnauthenticated) {
		logger.Info("credential missing or rejected, cart reset")
		e.store.Reset()
		return fmt.Errorf("%s item %d: %w", op, productID, domain.ErrUnauthenticated)
	}

	e.store.restoreEntry(productID, prev, had)

	if errors.Is(err, domain.ErrStockExceeded) {
		// our stock figure was stale; fetch the authority's view so the next attempt checks against it
		e.products.Invalidate(ctx)
		if reloadErr := e.store.reload(ctx); reloadErr != nil {
			logger.WithField("reload_error", reloadErr).Warn("reload after stock rejection failed")
		}
	}

	logger.Warn("cart mutation failed, line rolled back")
	return fmt.Errorf("%s item %d: %w", op, productID, err)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrStockExceeded):
		return metrics.OutcomeStockExceeded
	case errors.Is(err, domain.ErrUnauthenticated):
		return metrics.OutcomeUnauth
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeFailed
	}
}
