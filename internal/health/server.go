// Package health exposes an HTTP liveness endpoint for container probes. The
// report covers the MongoDB connection the directory depends on.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"tg_user_directory_bot/internal/logging"
)

const (
	pingTimeout       = 2 * time.Second
	readHeaderTimeout = 2 * time.Second

	statusOK       = "ok"
	statusDegraded = "degraded"
)

// Pinger verifies connectivity to a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server hosts GET /healthz and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	mongo  Pinger
	logger *logrus.Entry
}

type report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// NewServer constructs a health server listening on the given port. mongo may
// be nil; the endpoint then reports the store as degraded.
func NewServer(port int, mongo Pinger, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		mongo:  mongo,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

// handleHealth reports ok only when every dependency answers. A degraded
// report carries 503 so orchestrator probes fail without parsing the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := report{
		Status:     statusOK,
		Components: map[string]string{"mongo": statusOK},
	}

	if err := s.pingMongo(r.Context()); err != nil {
		rep.Status = statusDegraded
		rep.Components["mongo"] = err.Error()

		s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
	}

	w.Header().Set("Content-Type", "application/json")
	if rep.Status != statusOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(rep); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

func (s *Server) pingMongo(ctx context.Context) error {
	if s.mongo == nil {
		return errors.New("not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	return s.mongo.Ping(pingCtx)
}
