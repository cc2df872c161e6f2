package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"HTTP_PORT", "JWT_SECRET", "JWT_ISSUER", "JWT_AUDIENCE", "JWT_EXPIRATION_HOURS",
	"STORE_BACKEND", "DATABASE_URL", "PEBBLE_PATH", "ENCRYPTION_KEY", "LOG_LEVEL", "LOG_FORMAT",
	"MODELS_FILE", "TITLE_MODEL", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "OPENAI_API_KEY",
	"OPENAI_BASE_URL", "NATS_URL", "NATS_TOKEN", "NATS_SUBJECT_PREFIX", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StorePebble, cfg.StoreBackend)
	assert.Equal(t, "data/conversations", cfg.PebblePath)
	assert.Equal(t, 24*time.Hour, cfg.TokenExpiration)
	assert.Nil(t, cfg.EncryptionKey)
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "claude-instant-v1", cfg.TitleModel)
	assert.Equal(t, "branchchat", cfg.NatsSubjectPrefix)
	assert.Contains(t, cfg.Models.Names(), "claude-v2")
}

func TestFromEnvCustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/chat")
	t.Setenv("JWT_EXPIRATION_HOURS", "2")
	t.Setenv("ENCRYPTION_KEY", strings.Repeat("ab", 32))
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, 2*time.Hour, cfg.TokenExpiration)
	assert.Len(t, cfg.EncryptionKey, 32)
	assert.Equal(t, 0.5, cfg.RateLimitRPS)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestFromEnvErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":      {"JWT_SECRET": ""},
		"postgres without db": {"STORE_BACKEND": "postgres"},
		"unknown backend":     {"STORE_BACKEND": "dynamo"},
		"short key":           {"ENCRYPTION_KEY": "abcd"},
		"non hex key":         {"ENCRYPTION_KEY": strings.Repeat("zz", 32)},
		"bad hours":           {"JWT_EXPIRATION_HOURS": "soon"},
		"bad burst":           {"RATE_LIMIT_BURST": "x"},
		"unknown title model": {"TITLE_MODEL": "nope"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	m, ok := c.Lookup("claude-v2")
	require.True(t, ok)
	assert.Equal(t, ProviderAnthropic, m.Provider)
	assert.Equal(t, 2000, m.Generation.MaxTokens)
	assert.InDelta(t, 0.6, m.Generation.Temperature, 1e-6)
	assert.Equal(t, 250, m.Generation.TopK)
	assert.InDelta(t, 0.999, m.Generation.TopP, 1e-6)
	assert.Equal(t, []string{"Human: ", "Assistant: "}, m.Generation.StopSequences)

	instant, ok := c.Lookup("claude-instant-v1")
	require.True(t, ok)
	assert.Equal(t, 1000, instant.Generation.MaxTokens)

	_, ok = c.Lookup("missing")
	assert.False(t, ok)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  max_tokens: 100
  temperature: 1
models:
  - name: local
    provider: openai
    temperature: 0.2
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	m, ok := c.Lookup("local")
	require.True(t, ok)
	assert.Equal(t, "local", m.ProviderModel)
	assert.InDelta(t, 0.2, m.Generation.Temperature, 1e-6)
	assert.Equal(t, 100, m.Generation.MaxTokens)
}

func TestParseCatalogRejectsBadInput(t *testing.T) {
	for name, doc := range map[string]string{
		"not yaml":       "models: [",
		"no models":      "defaults: {max_tokens: 1}\nmodels: []",
		"no max tokens":  "models: [{name: a, provider: openai}]",
		"bad provider":   "defaults: {max_tokens: 1}\nmodels: [{name: a, provider: bedrock}]",
		"duplicate name": "defaults: {max_tokens: 1}\nmodels: [{name: a, provider: openai}, {name: a, provider: anthropic}]",
		"unnamed":        "defaults: {max_tokens: 1}\nmodels: [{provider: openai}]",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}
