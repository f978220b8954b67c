package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction of a stock effect.
type Direction string

const (
	// DirectionNone marks document types with no inventory side effect.
	DirectionNone Direction = "NONE"
	// DirectionIncrease adds received quantity to on-hand stock.
	DirectionIncrease Direction = "INCREASE"
	// DirectionDecrease draws shipped quantity down from on-hand stock.
	DirectionDecrease Direction = "DECREASE"
)

// StockRecord tracks per-product quantities. Available is always derived as
// OnHand - Reserved and never allowed to go negative.
type StockRecord struct {
	ProductRef string    `json:"product_ref"`
	OnHand     float64   `json:"on_hand"`
	Reserved   float64   `json:"reserved"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Available returns the quantity free to promise.
func (r StockRecord) Available() float64 {
	return r.OnHand - r.Reserved
}

// StockMovement is an immutable ledger entry. The existence of a
// non-reversal movement set for a document id is the idempotency guard:
// reconciliation is applied at most once per document. Cancellations append
// reversal entries; nothing in the ledger is ever mutated or deleted.
type StockMovement struct {
	ID            int64     `json:"id"`
	DocumentID    uuid.UUID `json:"document_id"`
	ProductRef    string    `json:"product_ref"`
	QuantityDelta float64   `json:"quantity_delta"`
	Direction     Direction `json:"direction"`
	Reversal      bool      `json:"reversal"`
	AppliedAt     time.Time `json:"applied_at"`
}

// MovementLine is the per-product input to a reconciliation.
type MovementLine struct {
	ProductRef string
	Quantity   float64
}

// Reservation holds quantity against a document before shipment.
type Reservation struct {
	DocumentID uuid.UUID `json:"document_id"`
	ProductRef string    `json:"product_ref"`
	Quantity   float64   `json:"quantity"`
}

// ErrInvalidQuantity indicates a non-positive movement quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidDirection indicates an unusable movement direction.
var ErrInvalidDirection = errors.New("inventory: direction must be INCREASE or DECREASE")

// ErrInsufficientStock is the sentinel wrapped by InsufficientStockError.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// InsufficientStockError names the product whose available quantity cannot
// cover the requested decrease. The whole apply is rejected; no partial
// stock mutation takes place.
type InsufficientStockError struct {
	ProductRef string
	Requested  float64
	Available  float64
}

// Shortfall is the missing quantity.
func (e *InsufficientStockError) Shortfall() float64 {
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: requested %.3f, available %.3f (short %.3f)",
		e.ProductRef, e.Requested, e.Available, e.Shortfall())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
