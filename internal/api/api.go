// Package api provides the HTTP server for AvatarStudy.
//
// It exposes JSON endpoints the browser front-end calls for every study event,
// SDK observation and transcript export. The API integrates the study,
// transcript, genai and upload modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AvatarStudy/internal/genai"
	"github.com/BTreeMap/AvatarStudy/internal/study"
	"github.com/BTreeMap/AvatarStudy/internal/upload"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxBodyBytes    = 1 << 20
)

var timeNow = time.Now

// Opts holds configuration for the API server.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
	AllowedOrigin   string // CORS origin of the front-end; empty disables CORS headers
	Conversations   *genai.Conversations
	Archive         *upload.Archive
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// WithAllowedOrigin enables CORS for the front-end origin.
func WithAllowedOrigin(origin string) Option {
	return func(o *Opts) { o.AllowedOrigin = origin }
}

// WithConversations enables the built-in chat backend.
func WithConversations(c *genai.Conversations) Option {
	return func(o *Opts) { o.Conversations = c }
}

// WithArchive exposes the failed-upload archive.
func WithArchive(a *upload.Archive) Option {
	return func(o *Opts) { o.Archive = a }
}

// Server serves the study API.
type Server struct {
	machine         *study.Machine
	conversations   *genai.Conversations
	archive         *upload.Archive
	addr            string
	allowedOrigin   string
	shutdownTimeout time.Duration
}

// NewServer creates a Server driving machine.
func NewServer(machine *study.Machine, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		machine:         machine,
		conversations:   cfg.Conversations,
		archive:         cfg.Archive,
		addr:            cfg.Addr,
		allowedOrigin:   cfg.AllowedOrigin,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/roster", s.rosterHandler)
	mux.HandleFunc("/sessions", s.createSessionHandler)
	mux.HandleFunc("/sessions/{key}", s.sessionStateHandler)

	mux.HandleFunc("/sessions/{key}/begin", s.eventHandler("beginHandler", s.machine.Begin))
	mux.HandleFunc("/sessions/{key}/practice/start", s.eventHandler("startPracticeHandler", s.machine.StartPractice))
	mux.HandleFunc("/sessions/{key}/next", s.eventHandler("nextHandler", s.machine.Next))
	mux.HandleFunc("/sessions/{key}/main/start", s.eventHandler("startMainStudyHandler", s.machine.StartMainStudy))
	mux.HandleFunc("/sessions/{key}/readiness/next", s.eventHandler("finishReadinessHandler", s.machine.FinishReadiness))
	mux.HandleFunc("/sessions/{key}/finish", s.eventHandler("finishHandler", s.machine.Finish))
	mux.HandleFunc("/sessions/{key}/resume", s.eventHandler("resumeHandler", s.machine.Resume))

	mux.HandleFunc("/sessions/{key}/sdk", s.sdkHandler)
	mux.HandleFunc("/sessions/{key}/chat", s.chatHandler)
	mux.HandleFunc("/sessions/{key}/transcript", s.transcriptHandler)
	mux.HandleFunc("/sessions/{key}/transcript.csv", s.transcriptCSVHandler)

	mux.HandleFunc("/uploads/failed", s.failedUploadsHandler)
	mux.HandleFunc("/uploads/retry", s.retryUploadsHandler)
	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	if s.allowedOrigin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("AvatarStudy API listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down API server", "timeout", s.shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}
