// Package server provides the HTTP server for the Mudra sign recognition system.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ayusman/mudra/internal/auth"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/recognizer"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir      string
	AllowedOrigins []string
	Engine         *recognizer.Engine
	Store          *store.Store
	Tokens         *auth.Tokens
	TemplateLoader api.TemplateLoader
	Logger         *slog.Logger
}

// Server represents the HTTP server for the Mudra application.
type Server struct {
	config Config
	router chi.Router
	logger *slog.Logger
	start  time.Time
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		router: chi.NewRouter(),
		logger: logger,
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors(s.config.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		if s.config.Engine != nil {
			r.Get("/labels", s.handleLabels)

			predict := newPredictHandler(s.config.Engine, s.logger)
			r.Post("/predict", predict.ServeHTTP)
			r.Get("/predict/ws", newStreamHandler(s.config.Engine, s.config.AllowedOrigins, s.logger).ServeHTTP)
		}

		// Account and template routes need both persistence and token signing.
		if s.config.Store != nil && s.config.Tokens != nil {
			api.NewUserHandler(s.config.Store, s.config.Tokens, s.logger).RegisterRoutes(r)

			var labels classifier.Labels
			if s.config.Engine != nil {
				labels = s.config.Engine.Labels()
			}
			api.NewTemplateHandler(s.config.Store, labels, s.config.TemplateLoader, s.config.Tokens, s.logger).RegisterRoutes(r)
		}
	})

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Sessions int    `json:"sessions"`
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Engine != nil {
		response.Sessions = s.config.Engine.Sessions().Len()
	}
	writeJSON(w, http.StatusOK, response)
}

// handleLabels handles GET requests to /api/labels.
func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Engine.Labels())
}

// ListenAndServe starts the HTTP server on the given address and blocks until
// ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
