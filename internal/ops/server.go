// Package ops serves health and Prometheus endpoints next to the bot.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// SessionCounter reports the number of users holding a session.
type SessionCounter interface {
	Len() int
}

// NewRouter builds the ops routes.
func NewRouter(sessions SessionCounter, started time.Time) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status:   "ok",
			Sessions: sessions.Len(),
			Uptime:   time.Since(started).Round(time.Second).String(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Server runs the ops router until shut down.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting ops server", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server error", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
