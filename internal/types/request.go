package types

// Request is the canonical representation of one inference call.
// It is immutable after construction: the pool never mutates a Request,
// and the same value may be fingerprinted and dispatched concurrently.
type Request struct {
	// Content
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Model  string `json:"model"`

	// Sampling parameters
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// Extra carries vendor-specific options passed through to the provider
	// (top_p, stop sequences, ...). Non-deterministic keys such as "stream"
	// and "user" are excluded from cache-key computation.
	Extra map[string]any `json:"extra,omitempty"`
}

// Message is one turn of an OpenAI-style chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages expands the request into the chat form the provider expects,
// with the optional system preamble first.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, 2)
	if r.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: r.Prompt})
	return msgs
}
