package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultCatalog []byte

// Providers a catalog entry may name.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

var ErrInvalidCatalog = errors.New("invalid model catalog")

// Generation holds the sampling settings sent with a completion request.
type Generation struct {
	MaxTokens     int      `yaml:"max_tokens"`
	Temperature   float32  `yaml:"temperature"`
	TopK          int      `yaml:"top_k"`
	TopP          float32  `yaml:"top_p"`
	StopSequences []string `yaml:"stop_sequences"`
}

// ModelSpec is one public model name and the provider model behind it.
// Zero MaxTokens and a nil Temperature inherit the catalog defaults.
type ModelSpec struct {
	Name          string   `yaml:"name"`
	Provider      string   `yaml:"provider"`
	ProviderModel string   `yaml:"provider_model"`
	MaxTokens     int      `yaml:"max_tokens,omitempty"`
	Temperature   *float32 `yaml:"temperature,omitempty"`
}

// ModelCatalog is the set of models clients may select.
type ModelCatalog struct {
	Defaults Generation  `yaml:"defaults"`
	Models   []ModelSpec `yaml:"models"`
}

// ResolvedModel is a catalog entry with its effective generation settings.
type ResolvedModel struct {
	ModelSpec
	Generation Generation
}

// Lookup returns the entry for a public model name.
func (c *ModelCatalog) Lookup(name string) (ResolvedModel, bool) {
	for _, m := range c.Models {
		if m.Name != name {
			continue
		}
		g := c.Defaults
		g.StopSequences = append([]string(nil), c.Defaults.StopSequences...)
		if m.MaxTokens > 0 {
			g.MaxTokens = m.MaxTokens
		}
		if m.Temperature != nil {
			g.Temperature = *m.Temperature
		}
		return ResolvedModel{ModelSpec: m, Generation: g}, true
	}
	return ResolvedModel{}, false
}

// Names lists the public model names in catalog order.
func (c *ModelCatalog) Names() []string {
	names := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		names = append(names, m.Name)
	}
	return names
}

// ParseCatalog decodes and validates a YAML model catalog.
func ParseCatalog(data []byte) (*ModelCatalog, error) {
	var c ModelCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(c.Models) == 0 {
		return nil, fmt.Errorf("%w: no models defined", ErrInvalidCatalog)
	}
	if c.Defaults.MaxTokens <= 0 {
		return nil, fmt.Errorf("%w: defaults.max_tokens must be positive", ErrInvalidCatalog)
	}
	seen := make(map[string]struct{}, len(c.Models))
	for i := range c.Models {
		m := &c.Models[i]
		if m.Name == "" {
			return nil, fmt.Errorf("%w: model #%d has no name", ErrInvalidCatalog, i)
		}
		if _, dup := seen[m.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate model %q", ErrInvalidCatalog, m.Name)
		}
		seen[m.Name] = struct{}{}
		switch m.Provider {
		case ProviderAnthropic, ProviderOpenAI:
		default:
			return nil, fmt.Errorf("%w: model %q has unknown provider %q", ErrInvalidCatalog, m.Name, m.Provider)
		}
		if m.ProviderModel == "" {
			m.ProviderModel = m.Name
		}
	}
	return &c, nil
}

// LoadCatalog reads the catalog at path, or the built-in one when path is empty.
func LoadCatalog(path string) (*ModelCatalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}
