package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/events"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/remote"
	log "github.com/sirupsen/logrus"
)

// CartSource is the cart as the client currently knows it.
type CartSource interface {
	Load(ctx context.Context) error
	Get() domain.Cart
}

type ProfileSource interface {
	Profile() (remote.UserProfile, bool)
}

type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, s *domain.CheckoutSnapshot) error
}

type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req remote.PaymentSessionRequest) (*remote.PaymentSession, error)
}

// Initiation is a started checkout: the frozen cart and where the buyer was sent to pay.
type Initiation struct {
	Snapshot   *domain.CheckoutSnapshot
	PaymentURL string
}

// Initiator freezes the cart, stores the snapshot and hands the buyer to the payment provider.
type Initiator struct {
	cart       CartSource
	profiles   ProfileSource
	snapshots  SnapshotWriter
	payments   PaymentGateway
	redirector Redirector
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     *log.Entry
	now        func() time.Time
}

func NewInitiator(cart CartSource, profiles ProfileSource, snapshots SnapshotWriter, payments PaymentGateway,
	redirector Redirector, publisher events.Publisher, m *metrics.Metrics, logger *log.Entry) *Initiator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Initiator{
		cart:       cart,
		profiles:   profiles,
		snapshots:  snapshots,
		payments:   payments,
		redirector: redirector,
		publisher:  publisher,
		metrics:    m,
		logger:     logger.WithField("component", "checkout_initiator"),
		now:        time.Now,
	}
}

// Initiate starts checkout for the current cart. The snapshot is on disk before the payment
// provider is contacted; if no session comes back the snapshot stays for a retry and the cart
// is left as it was.
func (i *Initiator) Initiate(ctx context.Context) (*Initiation, error) {
	profile, ok := i.profiles.Profile()
	if !ok {
		i.metrics.RecordCheckoutInitiated(metrics.OutcomeUnauth)
		return nil, fmt.Errorf("initiate checkout: %w", domain.ErrUnauthenticated)
	}

	if err := i.cart.Load(ctx); err != nil {
		i.metrics.RecordCheckoutInitiated(metrics.OutcomeUnavailable)
		return nil, fmt.Errorf("%w: %w", domain.ErrCheckoutInitiationFailed, err)
	}

	snapshot, err := domain.NewCheckoutSnapshot(i.cart.Get(), profile.Email, i.now().UTC())
	if err != nil {
		i.metrics.RecordCheckoutInitiated(metrics.OutcomeFailed)
		return nil, err
	}

	logger := i.logger.WithFields(log.Fields{"snapshot_id": snapshot.ID, "total": snapshot.TotalAmount.String()})

	if err := i.snapshots.SaveSnapshot(ctx, snapshot); err != nil {
		i.metrics.RecordCheckoutInitiated(metrics.OutcomeFailed)
		logger.WithError(err).Error("failed to persist checkout snapshot")
		return nil, fmt.Errorf("%w: %w", domain.ErrCheckoutInitiationFailed, err)
	}

	session, err := i.payments.CreateCheckoutSession(ctx, paymentRequest(snapshot))
	if err != nil {
		i.metrics.RecordCheckoutInitiated(outcomeOf(err))
		logger.WithError(err).Warn("payment session not created, snapshot kept for retry")
		return nil, fmt.Errorf("%w: %w", domain.ErrCheckoutInitiationFailed, err)
	}

	if err := i.redirector.Redirect(ctx, session.URL); err != nil {
		i.metrics.RecordCheckoutInitiated(metrics.OutcomeFailed)
		return nil, fmt.Errorf("%w: redirect: %w", domain.ErrCheckoutInitiationFailed, err)
	}

	i.metrics.RecordCheckoutInitiated(metrics.OutcomeSuccess)
	total := snapshot.TotalAmount
	i.publisher.Publish(ctx, events.Event{
		Type:       events.CheckoutInitiated,
		UserID:     profile.ID,
		SnapshotID: snapshot.ID.String(),
		Total:      &total,
	})
	logger.Info("checkout initiated")

	return &Initiation{Snapshot: snapshot, PaymentURL: session.URL}, nil
}

func paymentRequest(s *domain.CheckoutSnapshot) remote.PaymentSessionRequest {
	items := make([]remote.PaymentItem, len(s.Items))
	for idx, item := range s.Items {
		items[idx] = remote.PaymentItem{
			ID:       item.ProductID,
			Name:     item.ProductName,
			Price:    item.UnitPrice.InexactFloat64(),
			Quantity: item.Quantity,
		}
	}
	return remote.PaymentSessionRequest{Email: s.Email, Items: items}
}
