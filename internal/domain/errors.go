package domain

import (
	"errors"
	"fmt"
)

var (
	ErrStockExceeded            = errors.New("requested quantity exceeds available stock")
	ErrUnauthenticated          = errors.New("authentication required")
	ErrRemoteUnavailable        = errors.New("remote service unavailable")
	ErrEmptyCart                = errors.New("cart is empty, nothing to checkout")
	ErrCheckoutInitiationFailed = errors.New("failed to initiate checkout session")
	ErrOrderSubmissionFailed    = errors.New("order submission failed")

	ErrInvalidQuantity        = errors.New("quantity must be greater than 0")
	ErrNotFound               = errors.New("resource not found")
	ErrRequestRejected        = errors.New("request rejected by remote service")
	ErrDuplicateOrder         = errors.New("order for this checkout already exists")
	ErrNoSnapshot             = errors.New("no pending checkout snapshot")
	ErrFinalizationInProgress = errors.New("checkout finalization already in progress")
	ErrIllegalTransition      = errors.New("illegal transition of finalize state")
)

// StockError is returned when a quantity would break a product's stock ceiling.
// Available is -1 when the rejection came from the cart service without a figure.
type StockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if e.Available < 0 {
		return fmt.Sprintf("product %d: %v (requested %d)", e.ProductID, ErrStockExceeded, e.Requested)
	}
	return fmt.Sprintf("product %d: %v (requested %d, available %d)", e.ProductID, ErrStockExceeded, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool {
	return target == ErrStockExceeded
}
