package pool

// PriceTable maps model identifiers to USD per 1000 tokens. It is static
// configuration loaded at startup, never mutated at runtime.
type PriceTable map[string]float64

// Cost estimates the price of a call. Unknown models cost zero rather
// than failing: pricing is informational, not an admission gate.
func (t PriceTable) Cost(model string, tokens int) float64 {
	price, ok := t[model]
	if !ok {
		return 0
	}
	return price * float64(tokens) / 1000
}
