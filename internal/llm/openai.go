package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	openAIBaseURL     = "https://api.openai.com/v1"
)

// OpenAIClient talks to OpenAI-compatible chat completion endpoints
// (OpenRouter, OpenAI).
type OpenAIClient struct {
	transport *transport
	apiKey    string
	model     string
	baseURL   string
}

// NewOpenAIClient constructs a client if the descriptor carries credentials.
func NewOpenAIClient(desc ProviderDescriptor, opts Options) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(desc.APIKey)
	if apiKey == "" {
		return nil, ErrDisabled
	}
	model := strings.TrimSpace(desc.Model)
	if model == "" {
		return nil, fmt.Errorf("%s: model required", desc.Provider)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(desc.BaseURL), "/")
	if baseURL == "" {
		baseURL = openRouterBaseURL
		if desc.Provider == ProviderOpenAI {
			baseURL = openAIBaseURL
		}
	}
	return &OpenAIClient{
		transport: newTransport(desc.Provider, model, opts),
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	Seed           *int64            `json:"seed,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
	Messages       []chatMessage     `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends one chat completion request and returns the message content.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	payload := chatCompletionRequest{
		Model:          c.model,
		Temperature:    req.Temperature,
		Seed:           req.Seed,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	raw, err := c.transport.do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		return httpReq, nil
	})
	if err != nil {
		return "", err
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &ProviderCallError{Provider: c.transport.provider, Model: c.model, StatusCode: http.StatusOK, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(decoded.Choices) == 0 {
		return "", &ProviderCallError{Provider: c.transport.provider, Model: c.model, StatusCode: http.StatusOK, Err: ErrEmptyContent}
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", &ProviderCallError{Provider: c.transport.provider, Model: c.model, StatusCode: http.StatusOK, Err: ErrEmptyContent}
	}
	return content, nil
}
