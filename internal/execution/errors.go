// Package execution owns the money path: balance reservations, order
// submission and reconciliation, position aggregation, and exit evaluation.
package execution

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalid marks validation failures (price cap, bad approval, zero
// size). Never retried.
var ErrInvalid = errors.New("invalid order")

// InsufficientBalanceError is returned when a reservation would exceed the
// available balance. The caller may abort or wait for a refresh.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s, have %s", e.Required, e.Available)
}

// PriceCapError is returned when a BUY exceeds the configured maximum
// price. Raised before any venue call or persisted row.
type PriceCapError struct {
	Price decimal.Decimal
	Max   decimal.Decimal
}

func (e *PriceCapError) Error() string {
	return fmt.Sprintf("price %s exceeds buy cap %s", e.Price, e.Max)
}

func (e *PriceCapError) Unwrap() error { return ErrInvalid }

// VenueRejectedError is returned when the venue refuses an order. The
// reason lands on the order row.
type VenueRejectedError struct {
	Reason string
}

func (e *VenueRejectedError) Error() string {
	return fmt.Sprintf("venue rejected order: %s", e.Reason)
}
