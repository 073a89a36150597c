package pool

import "testing"

func TestPriceTable_Cost(t *testing.T) {
	table := PriceTable{
		"gpt-4o":      0.005,
		"gpt-4o-mini": 0.0015,
	}
	tests := []struct {
		name   string
		model  string
		tokens int
		want   float64
	}{
		{"known model", "gpt-4o", 2000, 0.01},
		{"fractional thousand", "gpt-4o-mini", 500, 0.00075},
		{"zero tokens", "gpt-4o", 0, 0},
		{"unknown model", "claude-unknown", 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.Cost(tt.model, tt.tokens); got != tt.want {
				t.Errorf("Cost(%q, %d) = %v, want %v", tt.model, tt.tokens, got, tt.want)
			}
		})
	}
}
