package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultClaimLease is how long a Finalizing claim is honoured before another run may take it over.
const DefaultClaimLease = 2 * time.Minute

type SnapshotStore interface {
	GetSnapshot(ctx context.Context) (*domain.CheckoutSnapshot, error)
	ClaimSnapshot(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (*domain.CheckoutSnapshot, error)
	ReleaseSnapshot(ctx context.Context, id uuid.UUID) error
	DeleteSnapshot(ctx context.Context, id uuid.UUID) error
}

type OrderAuthority interface {
	CreateOrder(ctx context.Context, idempotencyKey string, req remote.OrderRequest) (*domain.Order, error)
}

type CartClearer interface {
	Clear(ctx context.Context) error
}

// Result describes a finalization run.
type Result struct {
	// NoOp is set when there was no pending snapshot to finalize.
	NoOp bool
	// AlreadyCompleted is set when the order authority already had an order for the snapshot.
	AlreadyCompleted bool
	Snapshot         *domain.CheckoutSnapshot
	// Order is nil for NoOp and AlreadyCompleted runs.
	Order *domain.Order
}

// Finalizer turns the stored checkout snapshot into exactly one order when the buyer returns
// from the payment provider.
type Finalizer struct {
	mu        sync.Mutex
	snapshots SnapshotStore
	orders    OrderAuthority
	clearer   CartClearer
	cart      CartSource
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *log.Entry
	lease     time.Duration
	now       func() time.Time
}

func NewFinalizer(snapshots SnapshotStore, orders OrderAuthority, clearer CartClearer, cart CartSource,
	publisher events.Publisher, m *metrics.Metrics, logger *log.Entry) *Finalizer {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Finalizer{
		snapshots: snapshots,
		orders:    orders,
		clearer:   clearer,
		cart:      cart,
		publisher: publisher,
		metrics:   m,
		logger:    logger.WithField("component", "order_finalizer"),
		lease:     DefaultClaimLease,
		now:       time.Now,
	}
}

// Finalize submits the order for the pending snapshot. It is safe to call any number of times:
// without a pending snapshot it succeeds and does nothing.
func (f *Finalizer) Finalize(ctx context.Context) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.snapshots.GetSnapshot(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		return f.noop(ctx), nil
	}
	if err != nil {
		f.metrics.RecordOrderFinalized(metrics.OutcomeFailed)
		return nil, fmt.Errorf("%w: %w", domain.ErrOrderSubmissionFailed, err)
	}
	if snapshot.IsEmpty() {
		f.metrics.RecordOrderFinalized(metrics.OutcomeFailed)
		return nil, fmt.Errorf("finalize %s: %w", snapshot.ID, domain.ErrEmptyCart)
	}

	claimed, err := f.snapshots.ClaimSnapshot(ctx, snapshot.ID, f.now().UTC(), f.lease)
	if errors.Is(err, domain.ErrNoSnapshot) {
		return f.noop(ctx), nil
	}
	if err != nil {
		return nil, fmt.Errorf("finalize %s: %w", snapshot.ID, err)
	}

	logger := f.logger.WithField("snapshot_id", claimed.ID)

	order, err := f.orders.CreateOrder(ctx, claimed.ID.String(), remote.OrderRequest{
		Items: claimed.OrderItems(),
		Total: claimed.TotalAmount.InexactFloat64(),
	})
	duplicate := errors.Is(err, domain.ErrDuplicateOrder)
	if err != nil && !duplicate {
		return nil, f.submissionFailed(ctx, claimed, err)
	}

	if !domain.CanTransitionTo(claimed.State, domain.FinalizeStateCompleted) {
		return nil, fmt.Errorf("finalize %s: %w", claimed.ID, domain.ErrIllegalTransition)
	}
	if err := f.snapshots.DeleteSnapshot(ctx, claimed.ID); err != nil {
		// the claim lapses and a later run resubmits under the same key, which the authority refuses
		logger.WithError(err).Error("order created but snapshot not deleted")
	}
	claimed.State = domain.FinalizeStateCompleted

	if err := f.clearer.Clear(ctx); err != nil {
		logger.WithError(err).Warn("order created but remote cart not cleared")
	}
	if err := f.cart.Load(ctx); err != nil {
		logger.WithError(err).Warn("cart reload after finalization failed")
	}

	result := &Result{Snapshot: claimed, Order: order, AlreadyCompleted: duplicate}
	event := events.Event{Type: events.OrderFinalized, SnapshotID: claimed.ID.String()}
	total := claimed.TotalAmount
	event.Total = &total
	if duplicate {
		f.metrics.RecordOrderFinalized(metrics.OutcomeDuplicate)
		logger.Info("order already existed for snapshot, finalization completed")
	} else {
		event.OrderID = order.ID
		f.metrics.RecordOrderFinalized(metrics.OutcomeSuccess)
		logger.WithField("order_id", order.ID).Info("order finalized")
	}
	f.publisher.Publish(ctx, event)
	return result, nil
}

// Abandon discards the pending snapshot without creating an order.
func (f *Finalizer) Abandon(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot, err := f.snapshots.GetSnapshot(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("abandon checkout: %w", err)
	}
	if !domain.CanTransitionTo(snapshot.State, domain.FinalizeStateAbandoned) {
		return fmt.Errorf("abandon checkout %s: %w", snapshot.ID, domain.ErrFinalizationInProgress)
	}

	if err := f.snapshots.DeleteSnapshot(ctx, snapshot.ID); err != nil {
		return fmt.Errorf("abandon checkout %s: %w", snapshot.ID, err)
	}
	f.publisher.Publish(ctx, events.Event{Type: events.CheckoutAbandoned, SnapshotID: snapshot.ID.String()})
	f.logger.WithField("snapshot_id", snapshot.ID).Info("checkout abandoned")
	return nil
}

// Pending returns the stored snapshot, or domain.ErrNoSnapshot.
func (f *Finalizer) Pending(ctx context.Context) (*domain.CheckoutSnapshot, error) {
	return f.snapshots.GetSnapshot(ctx)
}

func (f *Finalizer) noop(ctx context.Context) *Result {
	f.metrics.RecordFinalizeNoop()
	if err := f.cart.Load(ctx); err != nil {
		f.logger.WithError(err).Warn("cart reload after no-op finalization failed")
	}
	return &Result{NoOp: true}
}

// submissionFailed hands the claim back so the snapshot can be retried.
func (f *Finalizer) submissionFailed(ctx context.Context, claimed *domain.CheckoutSnapshot, err error) error {
	f.metrics.RecordOrderFinalized(outcomeOf(err))
	logger := f.logger.WithError(err).WithField("snapshot_id", claimed.ID)

	// the caller's context may be what failed the submission
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if releaseErr := f.snapshots.ReleaseSnapshot(releaseCtx, claimed.ID); releaseErr != nil {
		logger.WithField("release_error", releaseErr).Error("failed to release snapshot claim")
	}
	logger.Warn("order submission failed, snapshot kept for retry")

	if errors.Is(err, domain.ErrUnauthenticated) {
		return fmt.Errorf("finalize %s: %w", claimed.ID, domain.ErrUnauthenticated)
	}
	return fmt.Errorf("%w: %w", domain.ErrOrderSubmissionFailed, err)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return metrics.OutcomeUnauth
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeFailed
	}
}
