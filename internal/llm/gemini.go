package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiResponseSchema mirrors the strict assessment schema so the provider
// constrains its own output.
var geminiResponseSchema = map[string]any{
	"type": "OBJECT",
	"required": []string{
		"score", "confidence", "score_breakdown", "pros", "cons",
		"evidence", "rationale", "uncertainty_flags",
	},
	"properties": map[string]any{
		"score":      map[string]any{"type": "NUMBER", "minimum": 0, "maximum": 100},
		"confidence": map[string]any{"type": "NUMBER", "minimum": 0, "maximum": 100},
		"score_breakdown": map[string]any{
			"type":     "OBJECT",
			"required": []string{"primary", "secondary", "tertiary"},
			"properties": map[string]any{
				"primary":   map[string]any{"type": "NUMBER", "minimum": 0, "maximum": 100},
				"secondary": map[string]any{"type": "NUMBER", "minimum": 0, "maximum": 100},
				"tertiary":  map[string]any{"type": "NUMBER", "minimum": 0, "maximum": 100},
			},
		},
		"pros":              map[string]any{"type": "ARRAY", "maxItems": 5, "items": map[string]any{"type": "STRING"}},
		"cons":              map[string]any{"type": "ARRAY", "maxItems": 5, "items": map[string]any{"type": "STRING"}},
		"evidence":          map[string]any{"type": "ARRAY", "maxItems": 3, "items": map[string]any{"type": "STRING"}},
		"rationale":         map[string]any{"type": "STRING"},
		"uncertainty_flags": map[string]any{"type": "ARRAY", "maxItems": 3, "items": map[string]any{"type": "STRING"}},
	},
}

// GeminiClient talks to the Gemini generateContent endpoint.
type GeminiClient struct {
	transport *transport
	apiKey    string
	model     string
	baseURL   string
}

// NewGeminiClient constructs a client if the descriptor carries credentials.
func NewGeminiClient(desc ProviderDescriptor, opts Options) (*GeminiClient, error) {
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
		baseURL = geminiBaseURL
	}
	return &GeminiClient{
		transport: newTransport(desc.Provider, model, opts),
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64        `json:"temperature"`
	Seed             *int64         `json:"seed,omitempty"`
	ResponseMimeType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

type geminiRequest struct {
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	Contents         []geminiContent        `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate sends one generateContent request and joins the returned text parts.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	payload := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:      req.Temperature,
			Seed:             req.Seed,
			ResponseMimeType: "application/json",
			ResponseSchema:   geminiResponseSchema,
		},
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.System + "\n\n" + req.User}},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	raw, err := c.transport.do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	})
	if err != nil {
		return "", err
	}

	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", &ProviderCallError{Provider: c.transport.provider, Model: c.model, StatusCode: http.StatusOK, Err: fmt.Errorf("decode response: %w", err)}
	}
	var builder strings.Builder
	if len(decoded.Candidates) > 0 {
		for _, part := range decoded.Candidates[0].Content.Parts {
			builder.WriteString(part.Text)
		}
	}
	content := strings.TrimSpace(builder.String())
	if content == "" {
		return "", &ProviderCallError{Provider: c.transport.provider, Model: c.model, StatusCode: http.StatusOK, Err: ErrEmptyContent}
	}
	return content, nil
}
