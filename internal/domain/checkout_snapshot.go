package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type FinalizeState string

const (
	FinalizeStatePending    FinalizeState = "PENDING"
	FinalizeStateFinalizing FinalizeState = "FINALIZING"
	FinalizeStateCompleted  FinalizeState = "COMPLETED"
	FinalizeStateAbandoned  FinalizeState = "ABANDONED"
)

func (s FinalizeState) IsTerminal() bool {
	return s == FinalizeStateCompleted || s == FinalizeStateAbandoned
}

// String representation (for logging)
func (s FinalizeState) String() string {
	return string(s)
}

var transitions = map[FinalizeState][]FinalizeState{
	FinalizeStatePending:    {FinalizeStateFinalizing, FinalizeStateAbandoned},
	FinalizeStateFinalizing: {FinalizeStateCompleted, FinalizeStatePending},
}

// CanTransitionTo reports whether a snapshot in state from may move to state to.
// A failed submission moves Finalizing back to Pending so the snapshot can be retried.
func CanTransitionTo(from, to FinalizeState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckoutSnapshotItem is an item in the snapshot with the price captured at checkout time.
type CheckoutSnapshotItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// CheckoutSnapshot is the frozen cart taken when checkout starts. It outlives the process
// so that the order can be rebuilt after the payment redirect returns.
type CheckoutSnapshot struct {
	ID          uuid.UUID              `json:"id"`
	Email       string                 `json:"email"`
	Items       []CheckoutSnapshotItem `json:"items"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	State       FinalizeState          `json:"state"`
	CapturedAt  time.Time              `json:"captured_at"`
	ClaimedAt   *time.Time             `json:"claimed_at,omitempty"`
}

// NewCheckoutSnapshot freezes cart. It fails with ErrEmptyCart when there is nothing to buy.
func NewCheckoutSnapshot(cart Cart, email string, capturedAt time.Time) (*CheckoutSnapshot, error) {
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	snapshot := &CheckoutSnapshot{
		ID:         uuid.New(),
		Email:      email,
		Items:      make([]CheckoutSnapshotItem, 0, cart.Len()),
		State:      FinalizeStatePending,
		CapturedAt: capturedAt,
	}

	total := decimal.Zero
	for _, e := range cart.Entries() {
		subtotal := e.Subtotal()
		snapshot.Items = append(snapshot.Items, CheckoutSnapshotItem{
			ProductID:   e.ProductID,
			ProductName: e.Product.Name,
			Quantity:    e.Quantity,
			UnitPrice:   e.Product.Price,
			Subtotal:    subtotal,
		})
		total = total.Add(subtotal)
	}
	snapshot.TotalAmount = total
	return snapshot, nil
}

func (s *CheckoutSnapshot) IsEmpty() bool {
	return s == nil || len(s.Items) == 0
}

// OrderItems converts the snapshot into the price-snapshotted items of an order request.
func (s *CheckoutSnapshot) OrderItems() []OrderItem {
	items := make([]OrderItem, len(s.Items))
	for i, item := range s.Items {
		items[i] = OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       item.UnitPrice,
		}
	}
	return items
}
