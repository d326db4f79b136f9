package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type PaymentItem struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type PaymentSessionRequest struct {
	Email string        `json:"email"`
	Items []PaymentItem `json:"items"`
}

type PaymentSession struct {
	URL string `json:"url"`
}

// CreateCheckoutSession asks the payment collaborator for a hosted payment page.
func (c *Client) CreateCheckoutSession(ctx context.Context, req PaymentSessionRequest) (*PaymentSession, error) {
	var session PaymentSession
	err := c.do(ctx, request{method: http.MethodPost, path: "/create-checkout-session", body: req}, &session)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("create checkout session: %w: no redirect url in response", domain.ErrRequestRejected)
	}
	return &session, nil
}
