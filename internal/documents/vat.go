package documents

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// VATBreakdown maps a VAT rate bucket to the VAT amount accumulated for it.
// JSON object keys must be strings, so the rate is rendered as its decimal
// form ("0.16") on the wire and in jsonb storage.
type VATBreakdown map[float64]float64

// MarshalJSON renders rates as decimal string keys.
func (b VATBreakdown) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(b))
	for rate, amount := range b {
		out[strconv.FormatFloat(rate, 'g', -1, 64)] = amount
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses decimal string keys back into rates.
func (b *VATBreakdown) UnmarshalJSON(data []byte) error {
	raw := make(map[string]float64)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(VATBreakdown, len(raw))
	for key, amount := range raw {
		rate, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return fmt.Errorf("documents: bad vat rate key %q: %w", key, err)
		}
		out[rate] = amount
	}
	*b = out
	return nil
}
