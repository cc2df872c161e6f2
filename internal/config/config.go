package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StorePebble   = "pebble"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration values loaded from environment variables.
type Config struct {
	HTTPPort string

	JWTSecret       string
	JWTIssuer       string // optional; checked when set
	JWTAudience     string // optional; checked when set
	TokenExpiration time.Duration

	StoreBackend  string
	DatabaseURL   string
	PebblePath    string
	EncryptionKey []byte // 32 raw bytes, or nil to store message maps unencrypted

	LogLevel  string
	LogFormat string

	ModelsFile string
	TitleModel string
	Models     *ModelCatalog

	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string

	NatsURL           string
	NatsToken         string
	NatsSubjectPrefix string

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded, using environment variables only")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", ""),
		JWTAudience:       getEnv("JWT_AUDIENCE", ""),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", StorePebble)),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		PebblePath:        getEnv("PEBBLE_PATH", "data/conversations"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		ModelsFile:        getEnv("MODELS_FILE", ""),
		TitleModel:        getEnv("TITLE_MODEL", "claude-instant-v1"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		NatsURL:           getEnv("NATS_URL", ""),
		NatsToken:         getEnv("NATS_TOKEN", ""),
		NatsSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "branchchat"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET is not set", ErrInvalidConfig)
	}

	hours, err := getEnvInt("JWT_EXPIRATION_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cfg.TokenExpiration = time.Duration(hours) * time.Hour

	switch cfg.StoreBackend {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL is required for the postgres store", ErrInvalidConfig)
		}
	case StorePebble:
		if cfg.PebblePath == "" {
			return nil, fmt.Errorf("%w: PEBBLE_PATH is required for the pebble store", ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalidConfig, cfg.StoreBackend)
	}

	// Must be 64 hex characters (32 bytes) when set.
	if keyHex := getEnv("ENCRYPTION_KEY", ""); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: ENCRYPTION_KEY is not hex: %v", ErrInvalidConfig, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("%w: ENCRYPTION_KEY must be 32 bytes (64 hex characters), got %d bytes", ErrInvalidConfig, len(key))
		}
		cfg.EncryptionKey = key
	}

	if cfg.RateLimitRPS, err = getEnvFloat("RATE_LIMIT_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}

	origins := getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if cfg.Models, err = LoadCatalog(cfg.ModelsFile); err != nil {
		return nil, err
	}
	if _, ok := cfg.Models.Lookup(cfg.TitleModel); !ok {
		return nil, fmt.Errorf("%w: TITLE_MODEL %q is not in the model catalog", ErrInvalidConfig, cfg.TitleModel)
	}

	log.Info().
		Str("port", cfg.HTTPPort).
		Str("store", cfg.StoreBackend).
		Dur("token_expiration", cfg.TokenExpiration).
		Bool("encryption", cfg.EncryptionKey != nil).
		Strs("models", cfg.Models.Names()).
		Msg("configuration loaded")

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, key, v)
	}
	return f, nil
}
