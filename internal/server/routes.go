// Package server wires admin HTTP handlers into a ServeMux via routing helpers.
package server

import (
	"log/slog"
	"net/http"
)

// SetupRoutes configures and returns an HTTP ServeMux with all admin routes:
// health check, stats, session table and the WebSocket gateway.
func SetupRoutes(hub *Hub, origins *OriginPolicy, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/stats", StatsHandler(hub, logger))
	mux.HandleFunc("/sessions", SessionsHandler(hub, logger))
	mux.HandleFunc("/ws", WebSocketHandler(hub, origins, logger))
	return mux
}
