package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// CatalogCache holds catalog snapshots between backend reads.
type CatalogCache interface {
	GetProducts(ctx context.Context) ([]domain.ProductSnapshot, error)
	SetProducts(ctx context.Context, products []domain.ProductSnapshot) error
	GetProduct(ctx context.Context, productID int64) (*domain.ProductSnapshot, error)
	SetProduct(ctx context.Context, product *domain.ProductSnapshot) error
	Invalidate(ctx context.Context) error
}

var ErrCacheMiss = errors.New("cache miss")
