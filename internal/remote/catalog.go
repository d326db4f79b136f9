package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// Products lists the catalog. Read only, no credential needed.
func (c *Client) Products(ctx context.Context) ([]domain.ProductSnapshot, error) {
	var products []domain.ProductSnapshot
	if err := c.do(ctx, request{method: http.MethodGet, path: "/products/"}, &products); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return products, nil
}
