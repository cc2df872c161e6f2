package api

import (
	"net/http"

	"branchchat-backend/internal/auth"
	"branchchat-backend/internal/config"
	"branchchat-backend/internal/handlers"
	"branchchat-backend/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	ConversationHandler *handlers.ConversationHandler
	Metrics             *metrics.Metrics
	Config              *config.Config
}

// Router is the application handler plus the background resources it owns.
type Router struct {
	*chi.Mux
	limiters *limiterPool
}

// Shutdown stops the rate limiter's cleanup loop.
func (r *Router) Shutdown() {
	r.limiters.Shutdown()
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *Router {
	cfg := deps.Config
	r := chi.NewRouter()
	limiters := newLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(deps.Metrics))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Public Routes (No JWT Required) ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	} else {
		log.Warn().Msg("Metrics dependency is nil, skipping /metrics route.")
	}

	// --- Authenticated Routes (JWT Required) ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JwtAuthMiddleware(cfg.JWTSecret, auth.TokenOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience}))
		r.Use(RateLimitMiddleware(limiters, deps.Metrics))

		if deps.ConversationHandler == nil {
			log.Warn().Msg("ConversationHandler dependency is nil, skipping /v1/conversation routes.")
			return
		}
		deps.ConversationHandler.Mount(r)
	})

	return &Router{Mux: r, limiters: limiters}
}
