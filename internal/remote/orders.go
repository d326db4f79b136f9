package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// IdempotencyKeyHeader carries the checkout snapshot id so the order backend can refuse a second order.
const IdempotencyKeyHeader = "Idempotency-Key"

type orderItemDTO struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

type OrderRequest struct {
	Items []domain.OrderItem
	Total float64
}

type orderRequestDTO struct {
	Items []orderItemDTO `json:"items"`
	Total float64        `json:"total"`
}

// CreateOrder submits an order. A 409 from the backend means an order with the same
// idempotency key already exists and is reported as ErrDuplicateOrder.
func (c *Client) CreateOrder(ctx context.Context, idempotencyKey string, req OrderRequest) (*domain.Order, error) {
	dto := orderRequestDTO{Items: make([]orderItemDTO, len(req.Items)), Total: req.Total}
	for i, item := range req.Items {
		dto.Items[i] = orderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.Price.InexactFloat64(),
		}
	}

	header := http.Header{}
	if idempotencyKey != "" {
		header.Set(IdempotencyKeyHeader, idempotencyKey)
	}

	var order domain.Order
	err := c.do(ctx, request{
		method:        http.MethodPost,
		path:          "/orders/",
		body:          dto,
		header:        header,
		authenticated: true,
	}, &order)
	if err != nil {
		if statusOf(err) == http.StatusConflict {
			return nil, fmt.Errorf("create order: %w", domain.ErrDuplicateOrder)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &order, nil
}

// ListOrders returns the order history of the authenticated user.
func (c *Client) ListOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	if err := c.do(ctx, request{method: http.MethodGet, path: "/orders/", authenticated: true}, &orders); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
