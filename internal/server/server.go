// Package server implements the TCP listener loop that feeds accepted
// connections into the Hub.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server accepts chat clients on a listener and hands each one to the Hub.
type Server struct {
	hub    *Hub
	logger *slog.Logger
}

// NewServer creates a Server feeding hub.
func NewServer(hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{hub: hub, logger: logger}
}

// Listen binds the chat listener for cfg.
func Listen(cfg Config) (net.Listener, error) {
	return net.Listen("tcp", cfg.ListenAddr())
}

// Serve accepts connections until ctx is cancelled. Each accepted connection
// either gets a session or, when the hub is full, is closed before any byte
// is exchanged. Transient accept errors are logged and retried with backoff.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("Chat listener started", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			backoff = nextBackoff(backoff)
			s.logger.Warn("Unable to accept client", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		s.admit(conn)
	}
}

func (s *Server) admit(conn net.Conn) {
	traceID := uuid.NewString()
	addr := conn.RemoteAddr().String()

	err := s.hub.Admit(NewTCPStream(conn), traceID)
	if err == nil {
		s.logger.Debug("Accepted client", "trace_id", traceID, "addr", addr)
		return
	}

	if errors.Is(err, ErrCapacityExceeded) {
		s.logger.Warn("Max clients connected. Connection rejected",
			"addr", addr, "capacity", s.hub.registry.Capacity())
	} else {
		s.logger.Info("Connection refused", "addr", addr, "error", err)
	}
	if cerr := conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
		s.logger.Debug("Error closing rejected connection", "addr", addr, "error", cerr)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	return min(current*2, maxAcceptBackoff)
}
