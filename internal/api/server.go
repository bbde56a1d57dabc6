package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Per-IP request budgets
const (
	eventsPerMinute = 600
	syncsPerMinute  = 10
)

// Server represents the HTTP API server
type Server struct {
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new HTTP server
func NewServer(port string, t Tracker, store Pinger, gatherer prometheus.Gatherer) *Server {
	router := NewRouter(t, store, gatherer)

	server := &http.Server{
		Addr:         "localhost:" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second, // A sync may take up to the sync timeout
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		router: router,
		server: server,
	}
}

// NewRouter wires middleware and routes
func NewRouter(t Tracker, store Pinger, gatherer prometheus.Gatherer) *chi.Mux {
	router := chi.NewRouter()

	// Middleware
	router.Use(RecoveryMiddleware)
	router.Use(middleware.RequestID)
	router.Use(LoggingMiddleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"chrome-extension://*", "moz-extension://*", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	handlers := NewHandlers(t, store)

	router.Get("/healthz", handlers.HealthCheck)
	router.Get("/stats", handlers.GetStats)
	router.Get("/session/current", handlers.GetCurrentSession)
	router.Post("/validate-user", handlers.ValidateUser)
	router.Get("/export", handlers.ExportData)
	router.Delete("/data", handlers.ClearData)

	router.Route("/config", func(r chi.Router) {
		r.Get("/", handlers.GetConfig)
		r.Put("/", handlers.SaveConfig)
	})

	router.With(rateLimit(eventsPerMinute, "too many events")).Post("/events", handlers.PostEvent)
	router.With(rateLimit(syncsPerMinute, "too many sync requests")).Post("/sync", handlers.SyncNow)

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return router
}

// rateLimit limits requests per client IP
func rateLimit(perMinute int, message string) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, message)
		}),
	)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.server.Addr)

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	slog.Info("HTTP server stopped")
	return nil
}
