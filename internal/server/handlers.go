// Package server exposes the admin HTTP handlers: health, stats, the session
// table and the WebSocket gateway onto the chat hub.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/process"
)

// Stats is the /stats payload: hub counters plus process figures.
type Stats struct {
	HubStats
	Goroutines int    `json:"goroutines"`
	Threads    int32  `json:"threads,omitempty"`
	RSSBytes   uint64 `json:"rss_bytes,omitempty"`
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "linkchat server is running!")
}

// StatsHandler reports hub counters and process resource usage as JSON.
func StatsHandler(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := Stats{
			HubStats:   hub.Stats(),
			Goroutines: runtime.NumGoroutine(),
		}
		if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
			if mem, err := proc.MemoryInfo(); err == nil {
				stats.RSSBytes = mem.RSS
			}
			if threads, err := proc.NumThreads(); err == nil {
				stats.Threads = threads
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Error("Error writing stats response", "error", err)
		}
	}
}

// SessionsHandler renders the registered sessions as a plain-text table.
func SessionsHandler(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rows := lo.Map(hub.Registry().Sessions(), func(info SessionInfo, _ int) []string {
			return []string{
				strconv.FormatUint(uint64(info.ID), 10),
				info.Name,
				info.Addr,
				info.JoinedAt.UTC().Format(time.RFC3339),
			}
		})

		w.Header().Set("Content-Type", "text/plain")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"ID", "Name", "Address", "Joined"})
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetAutoFormatHeaders(false)
		table.AppendBulk(rows)
		table.Render()

		if _, err := fmt.Fprintf(w, "%d/%d connected\n", len(rows), hub.Registry().Capacity()); err != nil {
			logger.Error("Error writing sessions response", "error", err)
		}
	}
}

// WebSocketHandler upgrades the request and joins the connection to the hub
// with the same line protocol as TCP clients: the first text message is the
// display name, every following message is one chat line.
func WebSocketHandler(hub *Hub, origins *OriginPolicy, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.Check,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}

		stream := NewWebSocketStream(conn, r.RemoteAddr, hub.Config().MaxMessageSize)
		if err := hub.Admit(stream, uuid.NewString()); err != nil {
			logger.Warn("WebSocket client rejected", "addr", r.RemoteAddr, "error", err)
			reason := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, reason, time.Now().Add(time.Second))
			_ = stream.Close()
		}
	}
}
