package documents

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matola-erp/matola-erp/internal/inventory"
)

// DocumentType enumerates the commercial document families handled by the
// engine. The set is closed: lifecycle rules, default series and stock
// effects are all keyed off this enum rather than scattered conditionals.
type DocumentType string

const (
	TypeRequisition     DocumentType = "REQUISITION"
	TypePurchaseOrder   DocumentType = "PURCHASE_ORDER"
	TypeGoodsReceipt    DocumentType = "GOODS_RECEIPT"
	TypeSupplierInvoice DocumentType = "SUPPLIER_INVOICE"
	TypeQuote           DocumentType = "QUOTE"
	TypeSalesOrder      DocumentType = "SALES_ORDER"
	TypeDeliveryNote    DocumentType = "DELIVERY_NOTE"
	TypeInvoice         DocumentType = "INVOICE"
	TypeCreditNote      DocumentType = "CREDIT_NOTE"
	TypeDebitNote       DocumentType = "DEBIT_NOTE"
)

// typeProfile carries the static attributes of a document type.
type typeProfile struct {
	series      string
	stockEffect inventory.Direction
	// monetary types require a positive grand total before confirmation
	// and may carry a withholding percentage.
	monetary bool
}

var typeProfiles = map[DocumentType]typeProfile{
	TypeRequisition:     {series: "REQ", stockEffect: inventory.DirectionNone},
	TypePurchaseOrder:   {series: "PO", stockEffect: inventory.DirectionNone, monetary: true},
	TypeGoodsReceipt:    {series: "GE", stockEffect: inventory.DirectionIncrease},
	TypeSupplierInvoice: {series: "FF", stockEffect: inventory.DirectionNone, monetary: true},
	TypeQuote:           {series: "COT", stockEffect: inventory.DirectionNone},
	TypeSalesOrder:      {series: "ENC", stockEffect: inventory.DirectionNone, monetary: true},
	TypeDeliveryNote:    {series: "GR", stockEffect: inventory.DirectionDecrease},
	TypeInvoice:         {series: "FAT", stockEffect: inventory.DirectionDecrease, monetary: true},
	TypeCreditNote:      {series: "NC", stockEffect: inventory.DirectionIncrease, monetary: true},
	TypeDebitNote:       {series: "ND", stockEffect: inventory.DirectionNone, monetary: true},
}

// Valid reports whether t belongs to the closed enumeration.
func (t DocumentType) Valid() bool {
	_, ok := typeProfiles[t]
	return ok
}

// DefaultSeries returns the numbering series used when the caller does not
// supply one, e.g. "GE" for goods receipts or "FAT" for invoices.
func (t DocumentType) DefaultSeries() string {
	return typeProfiles[t].series
}

// StockEffect returns the inventory direction applied when a document of
// this type is fulfilled.
func (t DocumentType) StockEffect() inventory.Direction {
	return typeProfiles[t].stockEffect
}

// Monetary reports whether money changes hands for this type, which gates
// the positive-grand-total confirmation precondition and withholding.
func (t DocumentType) Monetary() bool {
	return typeProfiles[t].monetary
}

// DocumentState is the lifecycle position of a document.
type DocumentState string

const (
	StateDraft              DocumentState = "DRAFT"
	StateConfirmed          DocumentState = "CONFIRMED"
	StatePartiallyFulfilled DocumentState = "PARTIALLY_FULFILLED"
	StateFulfilled          DocumentState = "FULFILLED"
	StateCancelled          DocumentState = "CANCELLED"
)

// ValidState reports whether s is a known lifecycle state.
func ValidState(s DocumentState) bool {
	switch s {
	case StateDraft, StateConfirmed, StatePartiallyFulfilled, StateFulfilled, StateCancelled:
		return true
	}
	return false
}

// DocumentNumber is the immutable sequential identity of a document inside
// its (series, period) namespace.
type DocumentNumber struct {
	Series   string `json:"series"`
	Period   string `json:"period"`
	Sequence int64  `json:"sequence"`
}

// String renders the canonical textual form, e.g. "GE 2025/0001".
func (n DocumentNumber) String() string {
	return fmt.Sprintf("%s %s/%04d", n.Series, n.Period, n.Sequence)
}

// LineItem is a priced line owned by a document. LineTotal is derived and
// recomputed from the other fields on every mutation; it is never trusted
// as input.
type LineItem struct {
	ID              int64    `json:"id"`
	ProductRef      *string  `json:"product_ref,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Quantity        float64  `json:"quantity"`
	UnitPrice       float64  `json:"unit_price"`
	DiscountPercent float64  `json:"discount_percent"`
	VATRate         float64  `json:"vat_rate"`
	LineTotal       float64  `json:"line_total"`
	LineOrder       int      `json:"line_order"`
}

// Totals aggregates the monetary state of a document. All fields derive
// from the lines plus the withholding percentage.
type Totals struct {
	Subtotal          float64      `json:"subtotal"`
	VATByRate         VATBreakdown `json:"vat_by_rate"`
	WithholdingAmount float64      `json:"withholding_amount"`
	GrandTotal        float64      `json:"grand_total"`
}

// VATTotal sums the per-rate VAT amounts.
func (t Totals) VATTotal() float64 {
	var sum float64
	for _, amount := range t.VATByRate {
		sum += amount
	}
	return sum
}

// Document is the aggregate root tying number, lines, totals and lifecycle
// state together. It is mutated only through Service operations.
type Document struct {
	ID                 uuid.UUID      `json:"id"`
	Type               DocumentType   `json:"type"`
	Number             DocumentNumber `json:"number"`
	State              DocumentState  `json:"state"`
	Currency           string         `json:"currency"`
	WithholdingPercent float64        `json:"withholding_percent"`
	Lines              []LineItem     `json:"lines"`
	Totals             Totals         `json:"totals"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// HasActiveLine reports whether at least one line moves a positive quantity.
func (d *Document) HasActiveLine() bool {
	for _, line := range d.Lines {
		if line.Quantity > 0 {
			return true
		}
	}
	return false
}

// MovementLines projects the document lines onto inventory movement input,
// skipping lines without a product reference or with zero quantity.
func (d *Document) MovementLines() []inventory.MovementLine {
	out := make([]inventory.MovementLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		if line.ProductRef == nil || line.Quantity <= 0 {
			continue
		}
		out = append(out, inventory.MovementLine{
			ProductRef: *line.ProductRef,
			Quantity:   line.Quantity,
		})
	}
	return out
}

// ============================================================================
// REQUEST DTOS
// ============================================================================

type CreateDocumentRequest struct {
	Type               DocumentType `json:"type" validate:"required"`
	Series             string       `json:"series,omitempty" validate:"omitempty,alphanum,max=10"`
	Period             string       `json:"period,omitempty" validate:"omitempty,max=10"`
	Currency           string       `json:"currency,omitempty" validate:"omitempty,len=3"`
	WithholdingPercent float64      `json:"withholding_percent" validate:"gte=0,lte=100"`
}

type LineItemRequest struct {
	ProductRef      *string `json:"product_ref,omitempty" validate:"omitempty,max=50"`
	Description     *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Quantity        float64 `json:"quantity" validate:"gte=0"`
	UnitPrice       float64 `json:"unit_price" validate:"gte=0"`
	DiscountPercent float64 `json:"discount_percent" validate:"gte=0,lte=100"`
	VATRate         float64 `json:"vat_rate"`
	LineOrder       int     `json:"line_order" validate:"gte=0"`
}

type SetLinesRequest struct {
	Lines []LineItemRequest `json:"lines" validate:"required,min=1,dive"`
}

type TransitionRequest struct {
	Target DocumentState `json:"target" validate:"required"`
}
