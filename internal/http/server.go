package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Finalizer interface {
	Finalize(ctx context.Context) (*checkout.Result, error)
	Pending(ctx context.Context) (*domain.CheckoutSnapshot, error)
}

type CartLoader interface {
	Load(ctx context.Context) error
}

// ReturnHandler serves the pages the payment provider sends the buyer back to.
type ReturnHandler struct {
	finalizer Finalizer
	cart      CartLoader
	timeout   time.Duration
	logger    *log.Entry
}

func NewReturnHandler(finalizer Finalizer, cart CartLoader, timeout time.Duration, logger *log.Entry) *ReturnHandler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &ReturnHandler{
		finalizer: finalizer,
		cart:      cart,
		timeout:   timeout,
		logger:    logger.WithField("component", "return_server"),
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type FinalizeResponseDTO struct {
	Status     string `json:"status"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	OrderID    int64  `json:"order_id,omitempty"`
	Total      string `json:"total,omitempty"`
}

type CancelResponseDTO struct {
	Status     string `json:"status"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// NewRouter wires the return routes, health and metrics.
func NewRouter(h *ReturnHandler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/success", h.Success)
	r.Get("/cancel", h.Cancel)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return otelhttp.NewHandler(r, "storefront-return")
}

// GET /success
func (h *ReturnHandler) Success(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.finalizer.Finalize(ctx)
	if err != nil {
		h.logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Warn("finalization failed")
		handleDomainError(w, err)
		return
	}

	resp := FinalizeResponseDTO{Status: "noop"}
	if !result.NoOp {
		resp.SnapshotID = result.Snapshot.ID.String()
		resp.Total = result.Snapshot.TotalAmount.StringFixed(2)
		resp.Status = "completed"
		if result.AlreadyCompleted {
			resp.Status = "already_completed"
		} else {
			resp.OrderID = result.Order.ID
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// GET /cancel
func (h *ReturnHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.cart.Load(ctx); err != nil {
		h.logger.WithError(err).Warn("cart reload after cancelled payment failed")
	}

	resp := CancelResponseDTO{Status: "cancelled"}
	snapshot, err := h.finalizer.Pending(ctx)
	switch {
	case err == nil:
		resp.SnapshotID = snapshot.ID.String()
	case !errors.Is(err, domain.ErrNoSnapshot):
		handleDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "unauthenticated", "login required")
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", domain.ErrEmptyCart.Error())
	case errors.Is(err, domain.ErrFinalizationInProgress):
		respondError(w, http.StatusConflict, "in_progress", domain.ErrFinalizationInProgress.Error())
	case errors.Is(err, domain.ErrOrderSubmissionFailed):
		respondError(w, http.StatusBadGateway, "order_submission_failed", "order could not be submitted, retry to finalize")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
