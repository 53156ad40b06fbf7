// Package api provides the HTTP surface of getoc serve.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/OceanOptics/getOC/internal/api/handler"
	"github.com/OceanOptics/getOC/internal/api/middleware"
	"github.com/OceanOptics/getOC/internal/platform"
	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version string
	Logger  zerolog.Logger

	// Platforms builds the backend of each resolve request.
	Platforms *platform.Registry

	// Health tracks the search clients for /v1/ops/providers.
	Health *resilience.Registry

	// Metrics is optional.
	Metrics *middleware.Metrics

	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string

	// ResolveTimeout bounds one resolve request.
	ResolveTimeout time.Duration

	// ResolveRateLimit overrides middleware.ResolveRateLimit.
	ResolveRateLimit *middleware.RateLimitConfig

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewRouter creates a chi router with the resolve and ops routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	resolveLimit := middleware.ResolveRateLimit
	if cfg.ResolveRateLimit != nil {
		resolveLimit = *cfg.ResolveRateLimit
	}

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.Health)
	imageListHandler := handler.NewImageListHandler(handler.ImageListConfig{
		Platforms: cfg.Platforms,
		Logger:    cfg.Logger,
		Timeout:   cfg.ResolveTimeout,
		Now:       cfg.Now,
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.OpsRateLimit))
			r.Get("/health", opsHandler.Health)
			r.Get("/providers", opsHandler.Providers)
		})

		r.With(
			middleware.RateLimitByIP(resolveLimit),
			middleware.RequireJSON,
		).Post("/image-lists", imageListHandler.Create)
	})

	return r
}
