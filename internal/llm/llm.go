// Package llm talks to hosted language models. Each provider client turns a
// short conversation into a single completion and reports token usage.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Provider identifies an LLM vendor
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Default models per provider
var defaultModels = map[Provider]string{
	ProviderGoogle:    "gemini-2.5-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-sonnet-4-5",
}

// API key environment variables per provider
var apiKeyEnv = map[Provider]string{
	ProviderGoogle:    "GOOGLE_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// Message is one turn of a conversation. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is a completion plus the usage the provider reported
type Response struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// TotalTokens returns input plus output tokens
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Completer is implemented by every provider client
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
	Provider() Provider
	Model() string
}

// ClientOption configures a provider client
type ClientOption func(*clientConfig)

type clientConfig struct {
	baseURL     string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// WithBaseURL points the client at a different endpoint, e.g. a proxy or a test server
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithMaxTokens caps the completion length
func WithMaxTokens(n int) ClientOption {
	return func(c *clientConfig) { c.maxTokens = n }
}

func newClientConfig(baseURL string, opts []ClientOption) clientConfig {
	cfg := clientConfig{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		maxTokens:   4096,
		temperature: 0.1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// New creates a client for provider. An empty model selects the provider default.
func New(provider Provider, model, apiKey string, opts ...ClientOption) (Completer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key required for provider %s", provider)
	}
	if model == "" {
		model = defaultModels[provider]
	}
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, model, opts...), nil
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey, model, opts...), nil
	case ProviderGoogle:
		return NewGoogleClient(apiKey, model, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// NewFromEnv creates a client reading the API key from the provider's
// environment variable
func NewFromEnv(provider Provider, model string, opts ...ClientOption) (Completer, error) {
	env, ok := apiKeyEnv[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	apiKey := os.Getenv(env)
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable required", env)
	}
	return New(provider, model, apiKey, opts...)
}

// postJSON sends body to url and decodes a 200 response into out
func postJSON(ctx context.Context, hc *http.Client, url string, headers map[string]string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// APIError is a non-200 provider response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status suggests trying again later
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
