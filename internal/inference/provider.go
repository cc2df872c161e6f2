// Package inference sends formatted prompts to model providers.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"branchchat-backend/internal/config"
)

var (
	// ErrUnsupportedModel is returned for a model name the registry cannot serve.
	ErrUnsupportedModel = errors.New("unsupported model")
	// ErrEmptyCompletion is returned when a provider answers with no text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Request is a single completion request.
type Request struct {
	Model         string // provider model id
	Prompt        string
	MaxTokens     int
	Temperature   float32
	TopP          float32
	TopK          int
	StopSequences []string
}

// Provider produces completions for a prompt. Stream calls onChunk with each
// fragment as it arrives and returns the full text; an error from onChunk
// aborts the stream.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onChunk func(string) error) (string, error)
}

// Registry maps public model names from the catalog onto providers.
type Registry struct {
	catalog   *config.ModelCatalog
	providers map[string]Provider
}

func NewRegistry(catalog *config.ModelCatalog) *Registry {
	return &Registry{catalog: catalog, providers: make(map[string]Provider)}
}

// Register installs the provider serving catalog entries with the given provider name.
func (r *Registry) Register(provider string, p Provider) {
	r.providers[provider] = p
}

// Resolve returns the provider for model and a request carrying its generation settings.
func (r *Registry) Resolve(model string) (Provider, Request, error) {
	m, ok := r.catalog.Lookup(model)
	if !ok {
		return nil, Request{}, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}
	p, ok := r.providers[m.Provider]
	if !ok {
		return nil, Request{}, fmt.Errorf("%w: %q (provider %s is not configured)", ErrUnsupportedModel, model, m.Provider)
	}
	return p, Request{
		Model:         m.ProviderModel,
		MaxTokens:     m.Generation.MaxTokens,
		Temperature:   m.Generation.Temperature,
		TopP:          m.Generation.TopP,
		TopK:          m.Generation.TopK,
		StopSequences: m.Generation.StopSequences,
	}, nil
}

// Complete resolves model and returns its trimmed completion of prompt.
func (r *Registry) Complete(ctx context.Context, model, prompt string) (string, error) {
	p, req, err := r.Resolve(model)
	if err != nil {
		return "", err
	}
	req.Prompt = prompt
	out, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Stream resolves model and streams its completion of prompt.
func (r *Registry) Stream(ctx context.Context, model, prompt string, onChunk func(string) error) (string, error) {
	p, req, err := r.Resolve(model)
	if err != nil {
		return "", err
	}
	req.Prompt = prompt
	out, err := p.Stream(ctx, req, onChunk)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
