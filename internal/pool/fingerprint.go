package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/restyle-ai/llmpool/internal/types"
)

// nonDeterministic lists request options that must never influence the
// cache key: they change delivery or attribution, not the content the
// model produces. Hashing them would defeat caching for otherwise
// identical prompts.
var nonDeterministic = map[string]bool{
	"stream":     true,
	"user":       true,
	"session_id": true,
}

// fingerprintFields is the canonical serialization shape. encoding/json
// emits map keys in sorted order, so two Extra maps with the same contents
// always marshal to identical bytes regardless of construction order.
type fingerprintFields struct {
	Prompt      string         `json:"prompt"`
	System      string         `json:"system"`
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Fingerprint maps a request's cache-relevant fields to a stable key.
// Pure and deterministic: requests that differ only in non-deterministic
// options share a key.
func Fingerprint(req types.Request) string {
	f := fingerprintFields{
		Prompt:      req.Prompt,
		System:      req.System,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Extra) > 0 {
		extra := make(map[string]any, len(req.Extra))
		for k, v := range req.Extra {
			if nonDeterministic[k] {
				continue
			}
			extra[k] = v
		}
		if len(extra) > 0 {
			f.Extra = extra
		}
	}

	data, err := json.Marshal(f)
	if err != nil {
		// Extra held something unmarshalable; fall back to the fmt
		// rendering so the key is still deterministic for equal values.
		data = []byte(fmt.Sprintf("%#v", f))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
