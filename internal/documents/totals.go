package documents

import (
	"fmt"
	"sort"
)

// VAT rate buckets recognised by the calculator. Mozambican IVA: standard
// 16%, reduced 5%, exempt.
var vatRateBuckets = map[float64]struct{}{
	0:    {},
	0.05: {},
	0.16: {},
}

// VATRates lists the recognised buckets in ascending order.
func VATRates() []float64 {
	rates := make([]float64, 0, len(vatRateBuckets))
	for rate := range vatRateBuckets {
		rates = append(rates, rate)
	}
	sort.Float64s(rates)
	return rates
}

func round2(val float64) float64 {
	if val < 0 {
		return -float64(int64(-val*100+0.5)) / 100
	}
	return float64(int64(val*100+0.5)) / 100
}

// ValidateLine rejects malformed line input before any computation runs.
func ValidateLine(req LineItemRequest) error {
	if req.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must be >= 0"}
	}
	if req.UnitPrice < 0 {
		return &ValidationError{Field: "unit_price", Reason: "must be >= 0"}
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		return &ValidationError{Field: "discount_percent", Reason: "must be within [0,100]"}
	}
	if _, ok := vatRateBuckets[req.VATRate]; !ok {
		return &ValidationError{Field: "vat_rate", Reason: fmt.Sprintf("unknown bucket %v", req.VATRate)}
	}
	return nil
}

// ComputeLineTotal derives the monetary components of a single line.
// Discount is applied before VAT for every document type. A line with zero
// quantity or zero price contributes nothing and is not an error.
func ComputeLineTotal(quantity, unitPrice, discountPercent, vatRate float64) (net, vat, total float64) {
	gross := quantity * unitPrice
	discount := round2(gross * discountPercent / 100)
	net = round2(gross - discount)
	vat = round2(net * vatRate)
	total = round2(net + vat)
	return net, vat, total
}

// ComputeDocumentTotals aggregates lines into document totals. Lines must
// already have passed ValidateLine; the function is pure and the aggregate
// does not depend on line order.
func ComputeDocumentTotals(lines []LineItem, withholdingPercent float64) Totals {
	totals := Totals{VATByRate: make(VATBreakdown)}
	for _, line := range lines {
		net, vat, _ := ComputeLineTotal(line.Quantity, line.UnitPrice, line.DiscountPercent, line.VATRate)
		totals.Subtotal += net
		if vat != 0 {
			totals.VATByRate[line.VATRate] += vat
		}
	}
	totals.Subtotal = round2(totals.Subtotal)
	for rate, amount := range totals.VATByRate {
		totals.VATByRate[rate] = round2(amount)
	}
	totals.WithholdingAmount = round2(totals.Subtotal * withholdingPercent / 100)
	totals.GrandTotal = round2(totals.Subtotal + totals.VATTotal() - totals.WithholdingAmount)
	return totals
}

// buildLines validates requests and materialises owned line items with
// derived totals. Line order defaults to request position, as in the UI.
func buildLines(reqs []LineItemRequest) ([]LineItem, error) {
	lines := make([]LineItem, 0, len(reqs))
	for i, req := range reqs {
		if err := ValidateLine(req); err != nil {
			return nil, err
		}
		_, _, total := ComputeLineTotal(req.Quantity, req.UnitPrice, req.DiscountPercent, req.VATRate)
		line := LineItem{
			ProductRef:      req.ProductRef,
			Description:     req.Description,
			Quantity:        req.Quantity,
			UnitPrice:       req.UnitPrice,
			DiscountPercent: req.DiscountPercent,
			VATRate:         req.VATRate,
			LineTotal:       total,
			LineOrder:       req.LineOrder,
		}
		if line.LineOrder == 0 {
			line.LineOrder = i + 1
		}
		lines = append(lines, line)
	}
	return lines, nil
}
