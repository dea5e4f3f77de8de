package llm

import (
	"context"
	"fmt"
)

// Supported provider kinds.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
)

// ProviderDescriptor names one entry of the provider chain.
type ProviderDescriptor struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// String renders provider/model without credentials.
func (d ProviderDescriptor) String() string {
	return fmt.Sprintf("%s/%s", d.Provider, d.Model)
}

// Request is a single structured generation call.
type Request struct {
	System      string
	User        string
	Temperature float64
	Seed        *int64
}

// Response carries the raw text and the chain entry that produced it.
type Response struct {
	Text     string
	Provider string
	Model    string
}

// Generator is the narrow adapter every provider kind implements. It returns
// the raw text the provider produced and never interprets its shape.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
