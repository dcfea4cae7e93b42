package api

import (
	"context"
	"fmt"
	"github.com/coder/websocket"
	"log/slog"
	"net"
	"net/http"
	"roomcast/internal/config"
	"time"
)

const shutdownTimeout = 10 * time.Second

// ConnectionHandler takes ownership of an accepted websocket.
type ConnectionHandler interface {
	HandleNewConnection(conn *websocket.Conn)
}

type Server struct {
	Config           *config.Config
	WebsocketManager ConnectionHandler
	logger           *slog.Logger
}

func NewServer(config *config.Config, wsManager ConnectionHandler, logger *slog.Logger) *Server {
	return &Server{
		Config:           config,
		WebsocketManager: wsManager,
		logger:           logger,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.Error(fmt.Sprintf("Error writing response: %v", err))
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /ws", s.wsHandler())
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    net.JoinHostPort(s.Config.APIServerHost, s.Config.APIServerPort),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server is running", "port", s.Config.APIServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed to listen and serve", "error", err)
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("API server failed to shutdown", "error", err)
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
