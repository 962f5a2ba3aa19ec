package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPServerService serves handler on addr.
type HTTPServerService struct {
	addr            string
	shutdownTimeout time.Duration
	handler         http.Handler
	logger          zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewHTTPServerService(addr string, shutdownTimeout time.Duration, handler http.Handler, logger zerolog.Logger) *HTTPServerService {
	return &HTTPServerService{
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		handler:         handler,
		logger:          logger,
	}
}

// Start binds the listen address and serves in the background.
func (s *HTTPServerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("http server is already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})

	go func(server *http.Server, done chan struct{}) {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}(s.server, s.done)

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("HTTPServerService started")
	return nil
}

// Stop shuts the server down. Hijacked websocket connections are not waited
// for; they are closed by DeviceWebsocketService.
func (s *HTTPServerService) Stop() error {
	s.mu.Lock()
	server, done := s.server, s.done
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	<-done

	s.logger.Info().Msg("HTTPServerService stopped")
	return nil
}

// Addr returns the bound address, or nil if not started.
func (s *HTTPServerService) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
