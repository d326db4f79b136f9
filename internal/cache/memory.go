package cache

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e memoryEntry[T]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryCache is the in-process CatalogCache used when no Redis is configured.
// Entries expire lazily on read.
type MemoryCache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	all      *memoryEntry[[]domain.ProductSnapshot]
	products map[int64]memoryEntry[domain.ProductSnapshot]
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:      ttl,
		now:      time.Now,
		products: make(map[int64]memoryEntry[domain.ProductSnapshot]),
	}
}

func (c *MemoryCache) GetProducts(_ context.Context) ([]domain.ProductSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.all == nil || c.all.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	out := make([]domain.ProductSnapshot, len(c.all.value))
	copy(out, c.all.value)
	return out, nil
}

func (c *MemoryCache) SetProducts(_ context.Context, products []domain.ProductSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]domain.ProductSnapshot, len(products))
	copy(stored, products)
	expiresAt := c.now().Add(c.ttl)
	c.all = &memoryEntry[[]domain.ProductSnapshot]{value: stored, expiresAt: expiresAt}
	// a full listing also refreshes the per-product entries
	for _, p := range products {
		c.products[p.ID] = memoryEntry[domain.ProductSnapshot]{value: p, expiresAt: expiresAt}
	}
	return nil
}

func (c *MemoryCache) GetProduct(_ context.Context, productID int64) (*domain.ProductSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.products[productID]
	if !ok || entry.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	product := entry.value
	return &product, nil
}

func (c *MemoryCache) SetProduct(_ context.Context, product *domain.ProductSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products[product.ID] = memoryEntry[domain.ProductSnapshot]{value: *product, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.all = nil
	c.products = make(map[int64]memoryEntry[domain.ProductSnapshot])
	return nil
}
