// Package httpserver exposes the verification engine over HTTP: the two
// verify endpoints, health, metrics, and the delivery-log admin listing.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/auth"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/circuitbreaker"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/config"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/logger"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/metrics"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/ratelimit"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/storage"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/verify"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	verifier *verify.Service
	store    storage.Store
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with its configured router.
func New(cfg *config.Config, verifier *verify.Service, store storage.Store, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			verifier: verifier,
			store:    store,
			breakers: breakers,
			metrics:  metricsCollector,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router)
	return s
}

func (s *Server) configureRouter(router chi.Router) {
	corsOptions := cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"authorization", "x-client-info", "apikey", "content-type", "x-api-key"},
		MaxAge:         300,
	}
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		corsOptions.AllowedOrigins = s.cfg.Server.CORSAllowedOrigins
	} else {
		// Reflect any origin; callers are integrations, not browsers with
		// credentials, so the wildcard carries no cookie risk.
		corsOptions.AllowOriginFunc = func(r *http.Request, origin string) bool { return true }
	}
	router.Use(cors.New(corsOptions).Handler)

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RealIP)
	router.Use(jsonRecoverer)

	ambient := ratelimit.Config{
		GlobalEnabled: s.cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   s.cfg.RateLimit.GlobalLimit,
		GlobalWindow:  s.cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:  s.cfg.RateLimit.PerIPEnabled,
		PerIPLimit:    s.cfg.RateLimit.PerIPLimit,
		PerIPWindow:   s.cfg.RateLimit.PerIPWindow.Duration,
		Metrics:       s.metrics,
	}
	router.Use(ratelimit.GlobalLimiter(ambient))
	router.Use(ratelimit.IPLimiter(ambient))

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", s.health)
		r.With(adminMetricsAuth(s.cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	// Verification endpoints: authenticated, with a budget wide enough for
	// a full 50-page ledger scan.
	authMW := auth.Middleware(s.cfg.Auth.APIKey, s.cfg.Auth.InternalTrustKey)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout.Duration))
		r.Use(authMW)
		r.Post("/verify-business", s.verifyBusiness)
		r.Post("/verify-business-batch", s.verifyBusinessBatch)
		r.Get("/webhook-deliveries", s.listWebhookDeliveries)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
