package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	CartItemAdded     EventType = "cart_item_added"
	CartItemUpdated   EventType = "cart_item_updated"
	CartItemRemoved   EventType = "cart_item_removed"
	CartCleared       EventType = "cart_cleared"
	CheckoutInitiated EventType = "checkout_initiated"
	CheckoutAbandoned EventType = "checkout_abandoned"
	OrderFinalized    EventType = "order_finalized"
)

// Event is one storefront activity record. Zero-valued fields are left out of the payload.
type Event struct {
	Type       EventType        `json:"type"`
	UserID     int64            `json:"user_id,omitempty"`
	ProductID  int64            `json:"product_id,omitempty"`
	Quantity   int              `json:"quantity,omitempty"`
	SnapshotID string           `json:"snapshot_id,omitempty"`
	OrderID    int64            `json:"order_id,omitempty"`
	Total      *decimal.Decimal `json:"total,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher is best effort: a failed publish is logged by the implementation and never
// reaches the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
