package config

// ModelsConfig carries per-model settings: pricing for cost annotation
// and a default output-token cap.
type ModelsConfig struct {
	Models map[string]ModelSettings `yaml:"models"`
}

type ModelSettings struct {
	CostPer1K float64 `yaml:"cost_per_1k"` // USD per 1000 tokens
	MaxTokens int     `yaml:"max_tokens"`  // default output cap
}

// PriceTable flattens the per-model settings into the lookup shape the
// pool's cost model uses.
func (m *ModelsConfig) PriceTable() map[string]float64 {
	table := make(map[string]float64, len(m.Models))
	for name, s := range m.Models {
		table[name] = s.CostPer1K
	}
	return table
}
