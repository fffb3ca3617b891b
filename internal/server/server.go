// Package server exposes the desk service over HTTP: the gateway webhook, the
// dashboard's JSON API and the operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"dmdesk/internal/desk"
)

const maxBodySize = 1 << 20 // 1MB

// Config configures the HTTP server.
type Config struct {
	Host            string
	Port            int
	WriteTimeout    time.Duration // must outlast the gateway auth timeout
	WebhookPath     string
	WebhookSecret   string // HMAC secret for X-Signature-256; empty disables verification
	MetricsEndpoint string // empty disables the metrics endpoint
	MetricsHandler  http.Handler
	Service         *desk.Service
	Logger          *slog.Logger
}

// Server is the dmdesk HTTP front end.
type Server struct {
	host          string
	port          int
	writeTimeout  time.Duration
	webhookPath   string
	webhookSecret string
	metricsPath   string
	metrics       http.Handler
	svc           *desk.Service
	validate      *validator.Validate
	logger        *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 7655
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 90 * time.Second
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook/incoming"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:          cfg.Host,
		port:          cfg.Port,
		writeTimeout:  cfg.WriteTimeout,
		webhookPath:   cfg.WebhookPath,
		webhookSecret: cfg.WebhookSecret,
		metricsPath:   cfg.MetricsEndpoint,
		metrics:       cfg.MetricsHandler,
		svc:           cfg.Service,
		validate:      newValidator(),
		logger:        cfg.Logger.With("component", "server"),
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Handler builds the router. Every dashboard route is also mounted under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metricsPath != "" && s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	r.Post(s.webhookPath, s.handleWebhook)
	s.mountAPI(r)

	r.Route("/api", func(r chi.Router) {
		r.Post("/incoming", s.handleWebhook)
		r.Post("/unipile/auth", s.handleConnect)
		r.Post("/test-message", s.handleTestMessage)
		r.Post("/regenerate/{id}", s.handleRegenerate)
		r.Post("/send/{id}", s.handleSend)
		r.Post("/generate-response", s.handleGenerate)
		r.Post("/send-conversation-response", s.handleConversationSend)
		s.mountAPI(r)
	})
	return r
}

func (s *Server) mountAPI(r chi.Router) {
	r.Post("/auth/connect", s.handleConnect)
	r.Post("/logout", s.handleLogout)
	r.Get("/session-status", s.handleSessionStatus)

	r.Get("/messages", s.handleMessages)
	r.Post("/messages/test", s.handleTestMessage)
	r.Post("/messages/{id}/regenerate", s.handleRegenerate)
	r.Post("/messages/{id}/send", s.handleSend)

	r.Get("/conversations", s.handleConversations)
	r.Post("/conversations/send", s.handleConversationSend)
	r.Get("/conversations/{id}", s.handleConversation)

	r.Post("/ai/generate", s.handleGenerate)
	r.Get("/fetch-messages", s.handleFetch)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", srv.Addr, "webhook", s.webhookPath)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// loggingMiddleware logs one line per request. Dashboard polling is logged at
// debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			level := slog.LevelInfo
			if r.Method == http.MethodGet && ww.Status() < http.StatusBadRequest {
				level = slog.LevelDebug
			}
			s.logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
