package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/fieldproof/fieldproof/internal/api/ws"
	"github.com/fieldproof/fieldproof/internal/auth"
	"github.com/fieldproof/fieldproof/internal/config"
	"github.com/fieldproof/fieldproof/internal/export"
	"github.com/fieldproof/fieldproof/internal/ingest"
	"github.com/fieldproof/fieldproof/internal/review"
	"github.com/fieldproof/fieldproof/internal/server/middleware"
	"github.com/fieldproof/fieldproof/internal/store/postgres"
	redisstore "github.com/fieldproof/fieldproof/internal/store/redis"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	store      *postgres.Store
	auth       *auth.Service
	pubsub     *redisstore.PubSub
	wsHub      *ws.Hub
	cfg        *config.Config
}

// Services groups the application services the routes depend on.
type Services struct {
	Ingest *ingest.Service
	Review *review.Service
	Export *export.Service
}

// New creates a Server with all routes wired. hub is created by the caller
// because the ingestion service needs it as its notifier before the server
// exists.
func New(ctx context.Context, cfg *config.Config, store *postgres.Store, pubsub *redisstore.PubSub, authSvc *auth.Service, hub *ws.Hub, svcs Services) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		store:  store,
		auth:   authSvc,
		pubsub: pubsub,
		wsHub:  hub,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	deviceValidator := middleware.NewDeviceValidator(authSvc)

	// Mount API routes on /api/v1 with three sub-groups:
	// 1. Unauthenticated auth endpoints, per-IP rate limited.
	// 2. Device-key endpoints (ingestion surface), per-device rate limited.
	// 3. Reviewer JWT endpoints (read, review, export, admin).
	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ctx, 5, 10))

			authConfig := huma.DefaultConfig("fieldproof Auth API", "1.0.0")
			authConfig.Servers = []*huma.Server{{URL: "/api/v1"}}
			authAPI := humachi.New(r, authConfig)
			registerAuthRoutes(authAPI, authSvc)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.DeviceAuth(deviceValidator))
			r.Use(middleware.RateLimitByDevice(ctx,
				cfg.Ingest.DeviceRatePerSecond, cfg.Ingest.DeviceRateBurst))

			deviceConfig := huma.DefaultConfig("fieldproof Device API", "1.0.0")
			deviceConfig.Servers = []*huma.Server{{URL: "/api/v1"}}
			deviceAPI := humachi.New(r, deviceConfig)
			registerDeviceAPIRoutes(deviceAPI, svcs)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.ReviewerAuth(cfg.JWT.Secret))
			r.Use(middleware.RateLimitByIP(ctx, 50, 100))

			apiConfig := huma.DefaultConfig("fieldproof API", "1.0.0")
			apiConfig.Servers = []*huma.Server{{URL: "/api/v1"}}
			api := humachi.New(r, apiConfig)
			registerReviewerRoutes(api, store, authSvc, svcs)
		})
	})

	// WebSocket routes: devices stream their own ingestion acks.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.DeviceAuth(deviceValidator))
		registerWSRoutes(r, hub)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
