package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/restyle-ai/llmpool/internal/types"
)

// ChatRequest is the wire-independent form of one chat completion
// attempt.
type ChatRequest struct {
	Model       string
	Messages    []types.Message
	MaxTokens   int
	Temperature float64
	Extra       map[string]any
}

// ChatResult is the provider's reply to a single successful attempt.
type ChatResult struct {
	Content    string
	TokensUsed int
}

// Client performs exactly one network call per invocation. Retry, rate
// limiting and caching all live above it.
type Client interface {
	SendChatRequest(ctx context.Context, req ChatRequest) (*ChatResult, error)
}

// Options configures the HTTP transport.
type Options struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration // total per-attempt bound (connect + read)
	MaxConcurrent int           // sizes the underlying connection pool
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint
// over a pooled http.Client.
type HTTPClient struct {
	opts   Options
	client *http.Client
}

// NewHTTPClient validates the credential and builds the pooled client.
// A missing API key is a startup-time configuration error, not a
// per-call one.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("transport: api key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 20
	}

	return &HTTPClient{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        opts.MaxConcurrent,
				MaxIdleConnsPerHost: opts.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}, nil
}

func (c *HTTPClient) SendChatRequest(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	for k, v := range req.Extra {
		// The pool does not consume SSE; a caller-supplied stream flag
		// would corrupt response parsing.
		if k == "stream" {
			continue
		}
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Kind: KindBadRequest, Message: "marshal request: " + err.Error(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, &ProviderError{Kind: KindBadRequest, Message: "create http request: " + err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Kind: classifyNetErr(err), Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindNetwork, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    truncate(string(respBody), 512),
		}
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ProviderError{Kind: KindMalformedResponse, Message: "unmarshal response: " + err.Error(), Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Kind: KindMalformedResponse, Message: "response contains no choices"}
	}

	return &ChatResult{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

// Close releases idle connections held by the pool.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

type chatResponseBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      types.Message `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
