package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"branchchat-backend/internal/api"
	"branchchat-backend/internal/config"
	"branchchat-backend/internal/events"
	"branchchat-backend/internal/handlers"
	"branchchat-backend/internal/inference"
	"branchchat-backend/internal/logging"
	"branchchat-backend/internal/metrics"
	"branchchat-backend/internal/services"
	"branchchat-backend/internal/store"
	"branchchat-backend/internal/store/pebblestore"
	"branchchat-backend/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("store", cfg.StoreBackend).Strs("models", cfg.Models.Names()).Msg("starting branchchat backend")

	// 2. Open the conversation store
	convStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open conversation store")
	}
	defer convStore.Close()

	codec := store.NewMessageMapCodec(cfg.EncryptionKey)
	if !codec.Encrypted() {
		log.Warn().Msg("ENCRYPTION_KEY not set, message maps are stored unencrypted")
	}

	// 3. Model providers
	registry := inference.NewRegistry(cfg.Models)
	if cfg.AnthropicAPIKey != "" {
		registry.Register(config.ProviderAnthropic, inference.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL))
		log.Info().Msg("anthropic provider registered")
	} else {
		log.Warn().Msg("ANTHROPIC_API_KEY not set, anthropic models are unavailable")
	}
	if cfg.OpenAIAPIKey != "" {
		registry.Register(config.ProviderOpenAI, inference.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL))
		log.Info().Msg("openai provider registered")
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, openai models are unavailable")
	}

	// 4. Events and metrics
	var publisher events.Publisher = events.Nop{}
	if cfg.NatsURL != "" {
		n, err := events.ConnectNATS(cfg.NatsURL, cfg.NatsToken, cfg.NatsSubjectPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		publisher = n
	}
	defer publisher.Close()
	m := metrics.New()

	// 5. Services, handlers and router
	convService := services.NewConversationService(convStore, codec, registry, publisher, m, cfg.TitleModel)
	router := api.NewRouter(api.RouterDependencies{
		ConversationHandler: handlers.NewConversationHandler(convService),
		Metrics:             m,
		Config:              cfg,
	})
	defer router.Shutdown()

	// 6. Configure and Start HTTP Server
	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
		// WriteTimeout stays unset: streamed replies last as long as the model does.
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("port", cfg.HTTPPort).Msg("could not listen")
		}
	}()

	<-stopChan
	log.Info().Msg("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server graceful shutdown failed")
		return
	}
	log.Info().Msg("server shutdown complete")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		pg := postgres.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info().Msg("postgres store ready")
		return pg, nil
	default:
		kv, err := pebblestore.Open(cfg.PebblePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.PebblePath).Msg("pebble store ready")
		return kv, nil
	}
}
