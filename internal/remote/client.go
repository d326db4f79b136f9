package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 64 << 10

// CredentialSource hands out the bearer credential and forgets it when the backend rejects it.
type CredentialSource interface {
	Token() (string, bool)
	Purge(ctx context.Context) error
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// FailureThreshold is the number of consecutive unavailable responses that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before letting a probe through.
	OpenTimeout time.Duration
}

// Client talks to the storefront backend: catalog, cart, auth, payment and orders.
// Every failure leaving Client is one of the domain sentinel errors.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	credentials CredentialSource
	breaker     *gobreaker.CircuitBreaker[[]byte]
	logger      *log.Entry
}

func NewClient(cfg Config, credentials CredentialSource, logger *log.Entry) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "storefront-api",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// business rejections (stock, 401, 404) say nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrRemoteUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		credentials: credentials,
		breaker:     breaker,
		logger:      logger.WithField("component", "remote"),
	}, nil
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	header http.Header
	// authenticated requests fail fast with ErrUnauthenticated when no credential is held
	authenticated bool
}

// responseError is a non-2xx answer. It never leaves the package; normalize turns it into a sentinel.
type responseError struct {
	status int
	detail string
}

func (e *responseError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.detail)
}

// do runs req through the breaker and decodes a 2xx body into out (if out is non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
		}
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %v", domain.ErrRemoteUnavailable, req.method, req.path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req request) ([]byte, error) {
	token, hasToken := "", false
	if c.credentials != nil {
		token, hasToken = c.credentials.Token()
	}
	if req.authenticated && !hasToken {
		return nil, domain.ErrUnauthenticated
	}

	var reader io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s request: %w", req.method, req.path, err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL.JoinPath(req.path)
	if len(req.query) > 0 {
		target.RawQuery = req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", req.method, req.path, err)
	}
	for k, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if hasToken {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.WithError(err).WithField("path", req.path).Warn("request failed")
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrRemoteUnavailable, req.method, req.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s response: %v", domain.ErrRemoteUnavailable, req.method, req.path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	respErr := &responseError{status: resp.StatusCode, detail: errorDetail(body)}
	if resp.StatusCode == http.StatusUnauthorized {
		c.purgeCredential(ctx)
	}
	return nil, normalize(respErr)
}

func (c *Client) purgeCredential(ctx context.Context) {
	if c.credentials == nil {
		return
	}
	if err := c.credentials.Purge(ctx); err != nil {
		c.logger.WithError(err).Error("failed to purge rejected credential")
		return
	}
	c.logger.Info("credential rejected by backend, purged")
}

// normalize maps a non-2xx response into the error taxonomy. The responseError stays
// in the chain (wrapped with %w) so endpoint methods can still look at the status.
func normalize(err *responseError) error {
	switch {
	case err.status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	case err.status >= 500, err.status == http.StatusRequestTimeout, err.status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err)
	case isStockDetail(err.detail):
		return fmt.Errorf("%w: %w", domain.ErrStockExceeded, err)
	case err.status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrRequestRejected, err)
	}
}

func isStockDetail(detail string) bool {
	return strings.Contains(strings.ToLower(detail), "stock")
}

func statusOf(err error) int {
	var respErr *responseError
	if errors.As(err, &respErr) {
		return respErr.status
	}
	return 0
}

// errorDetail pulls a message out of either {"detail": ...} or {"error": ...} bodies.
func errorDetail(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	switch d := payload.Detail.(type) {
	case string:
		return d
	case nil:
	default:
		if raw, err := json.Marshal(d); err == nil {
			return string(raw)
		}
	}
	return payload.Error
}
