package types

import "time"

// Response is the result of one inference call. Immutable: a cached copy
// returned to a later caller reuses the tokens/latency/cost of the attempt
// that originally produced it, with FromCache flipped on the copy.
type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	TokensUsed   int           `json:"tokens_used"`
	ResponseTime time.Duration `json:"response_time"`
	FromCache    bool          `json:"from_cache"`
	CostUSD      float64       `json:"cost_usd"`
}
