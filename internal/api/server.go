// Package api provides the HTTP API server for gmail-cleaner.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sruckh/gmail-cleaner/internal/config"
)

// AuthManager defines the credential operations the API needs.
type AuthManager interface {
	HasToken() bool
	SignOut() error
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	engine      Engine
	auth        AuthManager
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *ipLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eng Engine, auth AuthManager, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		auth:   auth,
		logger: logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS (config-driven; disabled when no origins configured)
	if origins := s.cfg.Server.CORSOrigins; len(origins) > 0 {
		maxAge := s.cfg.Server.CORSMaxAge
		if maxAge == 0 {
			maxAge = 86400
		}
		r.Use(corsMiddleware(origins, s.cfg.Server.CORSCredentials, maxAge))
	}

	// Rate limiting (10 req/sec with burst of 20)
	s.rateLimiter = newIPLimiter(10, 20)
	r.Use(s.rateLimiter.middleware)

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	// API routes (auth required)
	r.Route("/api", func(r chi.Router) {
		// Apply API key authentication
		r.Use(s.authMiddleware)

		// Auth
		r.Get("/auth-status", s.handleAuthStatus)
		r.Post("/sign-out", s.handleSignOut)

		// Unsubscribe scan
		r.Post("/scan", s.handleScan)
		r.Get("/status", s.handleScanStatus)
		r.Get("/results", s.handleScanResults)
		r.Post("/unsubscribe", s.handleUnsubscribe)

		// Delete scan and deletion
		r.Post("/delete-scan", s.handleDeleteScan)
		r.Get("/delete-scan-status", s.handleDeleteScanStatus)
		r.Get("/delete-scan-results", s.handleDeleteScanResults)
		r.Post("/delete-emails", s.handleDeleteEmails)
		r.Post("/delete-emails-bulk", s.handleDeleteEmailsBulk)
		r.Get("/delete-bulk-status", s.handleDeleteBulkStatus)

		// Mark read
		r.Post("/mark-read", s.handleMarkRead)
		r.Get("/mark-read-status", s.handleMarkReadStatus)
		r.Get("/unread-count", s.handleUnreadCount)

		// Archive and important
		r.Post("/archive", s.handleArchive)
		r.Get("/archive-status", s.handleArchiveStatus)
		r.Post("/mark-important", s.handleMarkImportant)
		r.Get("/important-status", s.handleImportantStatus)

		// Labels
		r.Get("/labels", s.handleListLabels)
		r.Post("/labels", s.handleCreateLabel)
		r.Delete("/labels/{id}", s.handleDeleteLabel)
		r.Post("/apply-label", s.handleApplyLabel)
		r.Post("/remove-label", s.handleRemoveLabel)
		r.Get("/label-operation-status", s.handleLabelOperationStatus)

		// Download
		r.Post("/download-emails", s.handleDownloadEmails)
		r.Get("/download-status", s.handleDownloadStatus)
		r.Get("/download-csv", s.handleDownloadCSV)
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication, set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key configured
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Check Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// Also check X-API-Key header
			authHeader = r.Header.Get("X-API-Key")
		}

		// Strip "Bearer " prefix if present
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
