package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// GoogleClient calls the Gemini generateContent API
type GoogleClient struct {
	apiKey string
	model  string
	cfg    clientConfig
}

// NewGoogleClient creates a new Google Gemini client
func NewGoogleClient(apiKey, model string, opts ...ClientOption) *GoogleClient {
	return &GoogleClient{
		apiKey: apiKey,
		model:  model,
		cfg:    newClientConfig("https://generativelanguage.googleapis.com/v1beta", opts),
	}
}

type googleRequest struct {
	Contents          []googleContent        `json:"contents"`
	SystemInstruction *googleContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenerationConfig `json:"generationConfig"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Complete sends the conversation to Gemini. Gemini calls the assistant
// "model", and system messages become the system instruction.
func (c *GoogleClient) Complete(ctx context.Context, messages []Message) (*Response, error) {
	var system []googlePart
	contents := make([]googleContent, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, googlePart{Text: m.Content})
		case "assistant":
			contents = append(contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			contents = append(contents, googleContent{Role: m.Role, Parts: []googlePart{{Text: m.Content}}})
		}
	}

	reqBody := googleRequest{
		Contents: contents,
		GenerationConfig: googleGenerationConfig{
			Temperature:      c.cfg.temperature,
			MaxOutputTokens:  c.cfg.maxTokens,
			ResponseMIMEType: "application/json",
		},
	}
	if len(system) > 0 {
		reqBody.SystemInstruction = &googleContent{Parts: system}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.baseURL, c.model, url.QueryEscape(c.apiKey))

	var out googleResponse
	if err := postJSON(ctx, c.cfg.httpClient, endpoint, nil, reqBody, &out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("no response candidates")
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from model (finish reason %q)", out.Candidates[0].FinishReason)
	}

	return &Response{
		Content:      text.String(),
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		Model:        c.model,
	}, nil
}

// Provider returns the provider name
func (c *GoogleClient) Provider() Provider {
	return ProviderGoogle
}

// Model returns the model name
func (c *GoogleClient) Model() string {
	return c.model
}
