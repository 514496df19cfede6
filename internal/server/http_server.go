// Package server constructs and runs the admin HTTP service with helpers that
// apply production timeouts.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates the admin HTTP server for addr and handler. The write
// timeout is left unset because hijacked WebSocket connections manage their
// own deadlines.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer listens and serves until the server is shut down. A clean
// shutdown returns nil.
func StartServer(server *http.Server, logger *slog.Logger) error {
	logger.Info("Admin server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the admin server, waiting at most
// timeout for in-flight requests.
func ShutdownServer(server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("Shutting down admin server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Admin server shutdown error", "error", err)
		return err
	}

	logger.Info("Admin server shutdown completed")
	return nil
}
