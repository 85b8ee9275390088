package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Server manages the HTTP server lifecycle for the daemon.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates the HTTP server bound to the configured address.
func NewServer(listen string, h *Handler, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    listen,
			Handler: h.Router(),
		},
		logger: logger,
	}
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("api shutdown", zap.Error(err))
	}
}
