package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Source is the read-only catalog authority. It only offers the full listing.
type Source interface {
	Products(ctx context.Context) ([]domain.ProductSnapshot, error)
}

// SnapshotCache is a read-through cache over the catalog. Concurrent misses for the same key
// share one backend call.
type SnapshotCache struct {
	source Source
	cache  cache.CatalogCache
	sfg    singleflight.Group
	logger *log.Entry
}

func NewSnapshotCache(source Source, c cache.CatalogCache, logger *log.Entry) *SnapshotCache {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &SnapshotCache{
		source: source,
		cache:  c,
		logger: logger.WithField("component", "catalog"),
	}
}

func (s *SnapshotCache) Products(ctx context.Context) ([]domain.ProductSnapshot, error) {
	v, err, _ := s.sfg.Do("products", func() (interface{}, error) {
		products, err := s.cache.GetProducts(ctx)
		if err == nil {
			return products, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WithError(err).Warn("cache get failed, reading through")
		}

		products, err = s.source.Products(ctx)
		if err != nil {
			return nil, err
		}

		if err := s.cache.SetProducts(ctx, products); err != nil {
			s.logger.WithError(err).Warn("cache set failed")
		}
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.ProductSnapshot), nil
}

// Product returns one product's snapshot. A miss is served from the listing, since the
// catalog has no per-product endpoint.
func (s *SnapshotCache) Product(ctx context.Context, productID int64) (*domain.ProductSnapshot, error) {
	v, err, _ := s.sfg.Do(fmt.Sprintf("product:%d", productID), func() (interface{}, error) {
		product, err := s.cache.GetProduct(ctx, productID)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.WithError(err).WithField("product_id", productID).Warn("cache get failed, reading through")
		}

		products, err := s.Products(ctx)
		if err != nil {
			return nil, err
		}
		for i := range products {
			if products[i].ID != productID {
				continue
			}
			product = &products[i]
			if err := s.cache.SetProduct(ctx, product); err != nil {
				s.logger.WithError(err).Warn("cache set failed")
			}
			return product, nil
		}
		return nil, fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	product := *v.(*domain.ProductSnapshot)
	return &product, nil
}

// Invalidate drops every cached snapshot, e.g. after the backend rejected a quantity the
// cached stock allowed.
func (s *SnapshotCache) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Warn("cache invalidate failed")
	}
}
