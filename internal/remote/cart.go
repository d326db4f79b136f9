package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type cartItemDTO struct {
	ID        int64                   `json:"id"`
	ProductID int64                   `json:"product_id"`
	Quantity  int                     `json:"quantity"`
	Product   *domain.ProductSnapshot `json:"product"`
}

type addItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// GetCart fetches the authoritative cart of the authenticated user.
func (c *Client) GetCart(ctx context.Context) (domain.Cart, error) {
	var items []cartItemDTO
	if err := c.do(ctx, request{method: http.MethodGet, path: "/cart/", authenticated: true}, &items); err != nil {
		return domain.Cart{}, fmt.Errorf("get cart: %w", err)
	}

	entries := make([]domain.CartEntry, 0, len(items))
	for _, item := range items {
		product := domain.ProductSnapshot{ID: item.ProductID}
		if item.Product != nil {
			product = *item.Product
		}
		entries = append(entries, domain.CartEntry{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Product:   product,
		})
	}
	return domain.NewCart(entries...), nil
}

func (c *Client) AddItem(ctx context.Context, productID int64, quantity int) error {
	err := c.do(ctx, request{
		method:        http.MethodPost,
		path:          "/cart/add",
		body:          addItemRequestDTO{ProductID: productID, Quantity: quantity},
		authenticated: true,
	}, nil)
	if err != nil {
		return fmt.Errorf("add item %d: %w", productID, stockError(err, productID, quantity))
	}
	return nil
}

func (c *Client) UpdateItem(ctx context.Context, productID int64, quantity int) error {
	err := c.do(ctx, request{
		method:        http.MethodPatch,
		path:          fmt.Sprintf("/cart/update/%d", productID),
		query:         url.Values{"quantity": {strconv.Itoa(quantity)}},
		authenticated: true,
	}, nil)
	if err != nil {
		return fmt.Errorf("update item %d: %w", productID, stockError(err, productID, quantity))
	}
	return nil
}

// RemoveItem deletes a line. The backend answers 404 for an absent line; that surfaces as ErrNotFound.
func (c *Client) RemoveItem(ctx context.Context, productID int64) error {
	err := c.do(ctx, request{
		method:        http.MethodDelete,
		path:          fmt.Sprintf("/cart/remove/%d", productID),
		authenticated: true,
	}, nil)
	if err != nil {
		return fmt.Errorf("remove item %d: %w", productID, err)
	}
	return nil
}

func (c *Client) ClearCart(ctx context.Context) error {
	err := c.do(ctx, request{method: http.MethodDelete, path: "/cart/clear", authenticated: true}, nil)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// stockError attaches the product and requested quantity to a backend stock rejection.
func stockError(err error, productID int64, quantity int) error {
	if !errors.Is(err, domain.ErrStockExceeded) {
		return err
	}
	return &domain.StockError{ProductID: productID, Requested: quantity, Available: -1}
}
