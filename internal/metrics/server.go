package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes the Prometheus scrape endpoint on its own listener.
type Server struct {
	addr   string
	path   string
	log    logrus.FieldLogger
	server *http.Server
}

// NewServer creates a metrics server. An empty path defaults to /metrics.
func NewServer(addr, path string, log logrus.FieldLogger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{addr: addr, path: path, log: log}
}

// Start begins serving scrapes in the background.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithFields(logrus.Fields{"addr": s.addr, "path": s.path}).Info("starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server error")
		}
	}()
}

// Stop shuts the listener down, waiting briefly for in-flight scrapes.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
