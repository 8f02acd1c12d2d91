// Package api provides the HTTP server of Auriance.
//
// It exposes the agent under /agents (chat, conversation history, profile,
// health and a websocket chat), the Prometheus metrics, a liveness probe and,
// when the Twilio channel is enabled, the Twilio webhook.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/auriance-health/auriance/internal/metrics"
	"github.com/auriance-health/auriance/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// Constants for the HTTP server
const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// maxRequestBytes bounds JSON request bodies.
	maxRequestBytes = 64 << 10
	// readHeaderTimeout bounds how long a client may take to send headers.
	readHeaderTimeout = 10 * time.Second
	// shutdownTimeout bounds the graceful shutdown of in-flight requests.
	shutdownTimeout = 15 * time.Second
)

// ChatAgent is the conversational core served over HTTP. *agent.Agent satisfies it.
type ChatAgent interface {
	HandleMessage(ctx context.Context, userID models.UserID, message string) (models.ChatReply, error)
	GetHistory(ctx context.Context, userID models.UserID) ([]models.Turn, error)
	ClearHistory(ctx context.Context, userID models.UserID) error
	SetProfile(ctx context.Context, userID models.UserID, profile models.Profile) error
	ReplyType() models.ReplyType
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	agent          ChatAgent
	metrics        *metrics.Metrics
	twilioWebhook  http.HandlerFunc
	allowAnyOrigin bool
	upgrader       websocket.Upgrader
}

// Option defines a configuration option for the Server.
type Option func(*Server)

// WithMetrics exposes m on /metrics and counts chat requests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTwilioWebhook mounts h on POST /webhooks/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(s *Server) {
		s.twilioWebhook = h
	}
}

// WithAllowAnyOrigin accepts websocket connections from any browser origin.
func WithAllowAnyOrigin() Option {
	return func(s *Server) {
		s.allowAnyOrigin = true
	}
}

// NewServer creates a Server serving ag.
func NewServer(ag ChatAgent, opts ...Option) *Server {
	s := &Server{agent: ag}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/healthz", s.healthzHandler)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Route("/agents", func(r chi.Router) {
		r.Post("/chat", s.chatHandler)
		r.Get("/conversation/{userID}", s.getConversationHandler)
		r.Delete("/conversation/{userID}", s.clearConversationHandler)
		r.Put("/profile/{userID}", s.setProfileHandler)
		r.Get("/health", s.agentHealthHandler)
		r.Get("/ws", s.wsHandler)
	})
	if s.twilioWebhook != nil {
		r.Post("/webhooks/twilio", s.twilioWebhook)
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.ListenAndServe: server failed", "error", err)
		return err
	case <-ctx.Done():
		slog.Info("Server.ListenAndServe: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// logRequests logs every request at debug level with its status and latency.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request served", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}
