package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server couples a hub with its HTTP listener.
type Server struct {
	Hub  *Hub
	http *http.Server
}

// NewServer prepares a relay listening on addr. Nothing runs until Serve.
func NewServer(addr string, allowedOrigins []string) *Server {
	hub := NewHub(nil)
	return &Server{
		Hub: hub,
		http: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(hub, allowedOrigins),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Serve runs the hub and the HTTP server until ctx is cancelled or the
// listener fails, then shuts both down.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.Hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("relay: listening", "addr", lis.Addr().String())
		if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("relay: shutting down")
	case serveErr = <-errCh:
		slog.Error("relay: server error", "err", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		slog.Warn("relay: http shutdown", "err", err)
	}
	// Hijacked websocket connections are not tracked by Shutdown; stopping the
	// hub closes their send channels so the write pumps hang up.
	stopHub()
	return serveErr
}
