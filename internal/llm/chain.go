package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agent-jury/backend/internal/metrics"
)

// NewGenerator builds the adapter for a descriptor's provider kind.
func NewGenerator(desc ProviderDescriptor, opts Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(desc.Provider)) {
	case ProviderOpenRouter, ProviderOpenAI:
		return NewOpenAIClient(desc, opts)
	case ProviderGemini:
		return NewGeminiClient(desc, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, desc.Provider)
	}
}

// Link pairs a chain entry with the adapter serving it.
type Link struct {
	Descriptor ProviderDescriptor
	Generator  Generator
}

// Chain tries each provider in order and returns the first success.
type Chain struct {
	links   []Link
	metrics metrics.Recorder
}

// NewChain builds adapters for every descriptor. The chain is read-only after
// construction.
func NewChain(providers []ProviderDescriptor, opts Options) (*Chain, error) {
	if len(providers) == 0 {
		return nil, errors.New("provider chain is empty")
	}
	links := make([]Link, 0, len(providers))
	for _, desc := range providers {
		gen, err := NewGenerator(desc, opts)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", desc, err)
		}
		links = append(links, Link{Descriptor: desc, Generator: gen})
	}
	return NewChainFromLinks(opts.Metrics, links...), nil
}

// NewChainFromLinks assembles a chain from prepared adapters.
func NewChainFromLinks(recorder metrics.Recorder, links ...Link) *Chain {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Chain{links: links, metrics: recorder}
}

// Descriptors returns the chain entries in order.
func (c *Chain) Descriptors() []ProviderDescriptor {
	out := make([]ProviderDescriptor, 0, len(c.links))
	for _, link := range c.links {
		out = append(out, link.Descriptor)
	}
	return out
}

// Generate returns the first successful response in chain order. When every
// entry fails the last error is returned wrapped in ExhaustedError.
func (c *Chain) Generate(ctx context.Context, req Request) (Response, error) {
	if c == nil || len(c.links) == 0 {
		return Response{}, ErrDisabled
	}

	var lastErr error
	for i, link := range c.links {
		desc := link.Descriptor
		start := time.Now()
		text, err := link.Generator.Generate(ctx, req)
		c.metrics.LLMCall(desc.Provider, desc.Model, err == nil, time.Since(start))
		if err == nil {
			return Response{Text: text, Provider: desc.Provider, Model: desc.Model}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}

		log := logrus.WithFields(logrus.Fields{"provider": desc.Provider, "model": desc.Model})
		if i == len(c.links)-1 {
			log.WithError(err).WithFields(logrus.Fields{
				"attempt":         i + 1,
				"total_providers": len(c.links),
			}).Error("all llm providers exhausted")
			break
		}
		next := c.links[i+1].Descriptor
		c.metrics.LLMFallback(desc.String(), next.String())
		log.WithError(err).WithFields(logrus.Fields{
			"attempt":       i + 1,
			"next_provider": next.String(),
		}).Warn("llm provider failed, falling back")
	}
	return Response{}, &ExhaustedError{Attempts: len(c.links), Last: lastErr}
}
