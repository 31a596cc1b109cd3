package llm

import (
	"context"
	"strings"
)

// AnthropicClient calls the Claude Messages API
type AnthropicClient struct {
	apiKey string
	model  string
	cfg    clientConfig
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(apiKey, model string, opts ...ClientOption) *AnthropicClient {
	return &AnthropicClient{
		apiKey: apiKey,
		model:  model,
		cfg:    newClientConfig("https://api.anthropic.com/v1", opts),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends the conversation to Anthropic. System messages go into
// the top-level system field.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message) (*Response, error) {
	var system []string
	msgs := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	reqBody := anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.cfg.maxTokens,
		System:      strings.Join(system, "\n\n"),
		Messages:    msgs,
		Temperature: c.cfg.temperature,
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}

	var out anthropicResponse
	if err := postJSON(ctx, c.cfg.httpClient, c.cfg.baseURL+"/messages", headers, reqBody, &out); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, part := range out.Content {
		if part.Type == "text" {
			text.WriteString(part.Text)
		}
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Content:      text.String(),
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		Model:        model,
	}, nil
}

// Provider returns the provider name
func (c *AnthropicClient) Provider() Provider {
	return ProviderAnthropic
}

// Model returns the model name
func (c *AnthropicClient) Model() string {
	return c.model
}
