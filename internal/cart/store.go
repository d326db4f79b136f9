package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Fetcher reads the authoritative cart.
type Fetcher interface {
	GetCart(ctx context.Context) (domain.Cart, error)
}

// Store is the client-side mirror of the user's cart.
//
// Every change to the cached cart is stamped with a sequence number taken when the change
// was issued. A change is applied only if nothing issued later has been applied already,
// so a slow response can never overwrite a newer one.
type Store struct {
	fetcher Fetcher
	metrics *metrics.Metrics
	logger  *log.Entry
	sfg     singleflight.Group

	// notifyMu keeps subscriber callbacks in apply order
	notifyMu sync.Mutex

	mu      sync.RWMutex
	cart    domain.Cart
	issued  uint64
	applied uint64
	subs    map[int]func(domain.Cart)
	nextSub int
}

func NewStore(fetcher Fetcher, m *metrics.Metrics, logger *log.Entry) *Store {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Store{
		fetcher: fetcher,
		metrics: m,
		logger:  logger.WithField("component", "cart_store"),
		subs:    make(map[int]func(domain.Cart)),
	}
}

// Get returns the cached cart. It never blocks on the network.
func (s *Store) Get() domain.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart
}

// Load fetches the authoritative cart. Concurrent calls share one fetch.
// A missing or rejected credential empties the cache and is not an error.
func (s *Store) Load(ctx context.Context) error {
	_, err, _ := s.sfg.Do("load", func() (interface{}, error) {
		return nil, s.reload(ctx)
	})
	return err
}

// reload always issues its own fetch. Mutations use it so the result they apply was read
// after their write.
func (s *Store) reload(ctx context.Context) error {
	seq := s.ticket()
	cart, err := s.fetcher.GetCart(ctx)
	if errors.Is(err, domain.ErrUnauthenticated) {
		s.apply(seq, domain.Cart{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	s.apply(seq, cart)
	return nil
}

// Replace swaps the cached cart for cart.
func (s *Store) Replace(cart domain.Cart) {
	s.update(func(domain.Cart) domain.Cart { return cart })
}

// Reset empties the cache, e.g. on logout.
func (s *Store) Reset() {
	s.update(func(domain.Cart) domain.Cart { return domain.Cart{} })
}

// Subscribe registers fn to be called with every applied cart. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(domain.Cart)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// setEntry applies an optimistic change to a single line.
func (s *Store) setEntry(entry domain.CartEntry) {
	s.update(func(c domain.Cart) domain.Cart { return c.With(entry) })
}

func (s *Store) dropEntry(productID int64) {
	s.update(func(c domain.Cart) domain.Cart { return c.Without(productID) })
}

// restoreEntry puts a line back to what it was before a failed mutation.
func (s *Store) restoreEntry(productID int64, prev domain.CartEntry, had bool) {
	if had {
		s.setEntry(prev)
		return
	}
	s.dropEntry(productID)
}

func (s *Store) ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

func (s *Store) apply(seq uint64, cart domain.Cart) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if seq < s.applied {
		s.mu.Unlock()
		s.metrics.RecordStaleDiscarded()
		s.logger.WithFields(log.Fields{"seq": seq, "applied": s.applied}).Debug("discarded superseded cart")
		return
	}
	s.applied = seq
	s.cart = cart
	subs := s.subscribers()
	s.mu.Unlock()

	s.metrics.SetCartEntries(cart.Len())
	for _, fn := range subs {
		fn(cart)
	}
}

// update derives the next cart from the current one under a fresh sequence number.
func (s *Store) update(fn func(domain.Cart) domain.Cart) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.issued++
	s.applied = s.issued
	s.cart = fn(s.cart)
	cart := s.cart
	subs := s.subscribers()
	s.mu.Unlock()

	s.metrics.SetCartEntries(cart.Len())
	for _, fn := range subs {
		fn(cart)
	}
}

// subscribers must be called with mu held.
func (s *Store) subscribers() []func(domain.Cart) {
	subs := make([]func(domain.Cart), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}
