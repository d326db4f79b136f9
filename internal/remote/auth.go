package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// UserProfile is the identity returned with a credential; Email is the contact field sent to the payment provider.
type UserProfile struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

type LoginResult struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        UserProfile `json:"user"`
}

type loginRequestDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges email and password for a bearer credential.
// Rejected credentials come back as ErrUnauthenticated.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   loginRequestDTO{Email: email, Password: password},
	}, &result)
	if err != nil {
		// the backend answers 400 "Invalid credentials"
		if errors.Is(err, domain.ErrRequestRejected) && statusOf(err) == http.StatusBadRequest {
			return nil, fmt.Errorf("login: %w", domain.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("login: %w: empty access token", domain.ErrRemoteUnavailable)
	}
	return &result, nil
}
