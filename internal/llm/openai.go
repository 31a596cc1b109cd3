package llm

import (
	"context"
	"fmt"
)

// OpenAIClient calls the Chat Completions API
type OpenAIClient struct {
	apiKey string
	model  string
	cfg    clientConfig
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, model string, opts ...ClientOption) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		model:  model,
		cfg:    newClientConfig("https://api.openai.com/v1", opts),
	}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// Complete sends the conversation to OpenAI, asking for a JSON object back
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (*Response, error) {
	reqBody := openAIRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    c.cfg.temperature,
		MaxTokens:      c.cfg.maxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var out openAIResponse
	if err := postJSON(ctx, c.cfg.httpClient, c.cfg.baseURL+"/chat/completions", headers, reqBody, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Content:      out.Choices[0].Message.Content,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		Model:        model,
	}, nil
}

// Provider returns the provider name
func (c *OpenAIClient) Provider() Provider {
	return ProviderOpenAI
}

// Model returns the model name
func (c *OpenAIClient) Model() string {
	return c.model
}
