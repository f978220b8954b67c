package documents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeLineTotalDiscountBeforeVAT(t *testing.T) {
	net, vat, total := ComputeLineTotal(10, 100, 10, 0.16)
	require.InDelta(t, 900.0, net, 0.001)
	require.InDelta(t, 144.0, vat, 0.001)
	require.InDelta(t, 1044.0, total, 0.001)
}

func TestComputeLineTotalZeroQuantity(t *testing.T) {
	net, vat, total := ComputeLineTotal(0, 250, 5, 0.16)
	require.Zero(t, net)
	require.Zero(t, vat)
	require.Zero(t, total)
}

func TestComputeLineTotalRounding(t *testing.T) {
	// 3 * 33.33 = 99.99, 10% discount = 10.00 (rounded), net 89.99
	net, vat, total := ComputeLineTotal(3, 33.33, 10, 0.05)
	require.InDelta(t, 89.99, net, 0.001)
	require.InDelta(t, 4.50, vat, 0.001)
	require.InDelta(t, 94.49, total, 0.001)
}

func TestComputeLineTotalMonotonic(t *testing.T) {
	_, _, base := ComputeLineTotal(10, 100, 10, 0.16)

	_, _, moreQty := ComputeLineTotal(11, 100, 10, 0.16)
	require.GreaterOrEqual(t, moreQty, base)

	_, _, higherPrice := ComputeLineTotal(10, 110, 10, 0.16)
	require.GreaterOrEqual(t, higherPrice, base)

	_, _, biggerDiscount := ComputeLineTotal(10, 100, 25, 0.16)
	require.LessOrEqual(t, biggerDiscount, base)
}

func TestComputeDocumentTotalsGroupsVATByRate(t *testing.T) {
	ref := "SKU-1"
	lines := []LineItem{
		{ProductRef: &ref, Quantity: 10, UnitPrice: 100, DiscountPercent: 10, VATRate: 0.16},
		{ProductRef: &ref, Quantity: 2, UnitPrice: 50, VATRate: 0.05},
		{ProductRef: &ref, Quantity: 1, UnitPrice: 200, VATRate: 0},
	}
	totals := ComputeDocumentTotals(lines, 0)

	require.InDelta(t, 1200.0, totals.Subtotal, 0.001)
	require.InDelta(t, 144.0, totals.VATByRate[0.16], 0.001)
	require.InDelta(t, 5.0, totals.VATByRate[0.05], 0.001)
	require.NotContains(t, totals.VATByRate, 0.0)
	require.InDelta(t, 149.0, totals.VATTotal(), 0.001)
	require.InDelta(t, 1349.0, totals.GrandTotal, 0.001)
}

func TestComputeDocumentTotalsWithholding(t *testing.T) {
	ref := "SRV-1"
	lines := []LineItem{
		{ProductRef: &ref, Quantity: 1, UnitPrice: 1000, VATRate: 0.16},
	}
	totals := ComputeDocumentTotals(lines, 10)

	require.InDelta(t, 1000.0, totals.Subtotal, 0.001)
	require.InDelta(t, 160.0, totals.VATByRate[0.16], 0.001)
	require.InDelta(t, 100.0, totals.WithholdingAmount, 0.001)
	require.InDelta(t, 1060.0, totals.GrandTotal, 0.001)
}

func TestComputeDocumentTotalsOrderIndependent(t *testing.T) {
	a := "A"
	b := "B"
	lines := []LineItem{
		{ProductRef: &a, Quantity: 3, UnitPrice: 33.33, DiscountPercent: 5, VATRate: 0.16},
		{ProductRef: &b, Quantity: 7, UnitPrice: 12.5, VATRate: 0.05},
	}
	reversed := []LineItem{lines[1], lines[0]}

	forward := ComputeDocumentTotals(lines, 2)
	backward := ComputeDocumentTotals(reversed, 2)
	require.Equal(t, forward, backward)
}

func TestComputeDocumentTotalsInvariant(t *testing.T) {
	ref := "SKU-9"
	lines := []LineItem{
		{ProductRef: &ref, Quantity: 4, UnitPrice: 19.99, DiscountPercent: 12.5, VATRate: 0.16},
		{ProductRef: &ref, Quantity: 6, UnitPrice: 7.77, VATRate: 0.05},
		{ProductRef: &ref, Quantity: 2, UnitPrice: 3.15, VATRate: 0},
	}
	totals := ComputeDocumentTotals(lines, 6.5)
	require.InDelta(t,
		totals.Subtotal+totals.VATTotal()-totals.WithholdingAmount,
		totals.GrandTotal, 0.005)
}

func TestValidateLineRejectsUnknownVATBucket(t *testing.T) {
	err := ValidateLine(LineItemRequest{Quantity: 1, UnitPrice: 10, VATRate: 0.17})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrValidation)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "vat_rate", vErr.Field)
}

func TestValidateLineRejectsDiscountOutOfRange(t *testing.T) {
	err := ValidateLine(LineItemRequest{Quantity: 1, UnitPrice: 10, DiscountPercent: 101, VATRate: 0.16})
	require.ErrorIs(t, err, ErrValidation)
}

func TestBuildLinesDefaultsLineOrder(t *testing.T) {
	ref := "SKU-2"
	lines, err := buildLines([]LineItemRequest{
		{ProductRef: &ref, Quantity: 1, UnitPrice: 10, VATRate: 0.16},
		{ProductRef: &ref, Quantity: 2, UnitPrice: 20, VATRate: 0},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, 1, lines[0].LineOrder)
	require.Equal(t, 2, lines[1].LineOrder)
	require.InDelta(t, 11.6, lines[0].LineTotal, 0.001)
	require.InDelta(t, 40.0, lines[1].LineTotal, 0.001)
}

func TestBuildLinesStopsAtFirstInvalid(t *testing.T) {
	ref := "SKU-3"
	_, err := buildLines([]LineItemRequest{
		{ProductRef: &ref, Quantity: 1, UnitPrice: 10, VATRate: 0.16},
		{ProductRef: &ref, Quantity: 1, UnitPrice: 10, VATRate: 0.2},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestVATRatesSorted(t *testing.T) {
	require.Equal(t, []float64{0, 0.05, 0.16}, VATRates())
}

func TestVATBreakdownJSONRoundTrip(t *testing.T) {
	breakdown := VATBreakdown{0.16: 144, 0.05: 5}
	data, err := json.Marshal(breakdown)
	require.NoError(t, err)

	var decoded VATBreakdown
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.InDelta(t, 144.0, decoded[0.16], 0.001)
	require.InDelta(t, 5.0, decoded[0.05], 0.001)
}
