// Package server coordinates admission, broadcast and shutdown for the chat
// sessions via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Hub owns the Registry, fans messages out to registered connections and
// tracks every running session so shutdown can wait for them.
type Hub struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closing bool

	delivered atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	accepted  atomic.Uint64
}

// DeliveryReport summarises one broadcast.
type DeliveryReport struct {
	Targets   int
	Delivered int
	Failed    int
}

// HubStats is a point-in-time view of the hub counters.
type HubStats struct {
	Live      int    `json:"live"`
	Pending   int    `json:"pending"`
	Capacity  int    `json:"capacity"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// NewHub creates a Hub for cfg. The registry capacity is cfg.MaxClients.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = sanitizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(cfg.MaxClients),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry exposes the hub's connection table.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Config returns the sanitised configuration the hub runs with.
func (h *Hub) Config() Config {
	return h.cfg
}

// Admit reserves a registry slot for stream and starts its session. When the
// hub is full or shutting down the stream is left untouched and the caller
// must close it; no session state is created.
func (h *Hub) Admit(stream Stream, traceID string) error {
	reservation, err := h.registry.Reserve()
	if err != nil {
		h.rejected.Add(1)
		return err
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		reservation.Release()
		return ErrHubClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()

	h.accepted.Add(1)
	session := h.newSession(stream, traceID, reservation)
	go func() {
		defer h.wg.Done()
		session.Run(h.ctx)
	}()
	return nil
}

func (h *Hub) newSession(stream Stream, traceID string, reservation *Reservation) *Session {
	logger := h.logger.With("trace_id", traceID, "addr", stream.RemoteAddr())
	conn := NewConnection(stream, traceID, h.cfg.SendQueueSize, h.cfg.WriteTimeout, logger)
	return &Session{
		hub:         h,
		conn:        conn,
		reservation: reservation,
		limiter:     newLineLimiter(h.cfg.RateLimit),
		logger:      logger,
	}
}

// Broadcast queues msg for every registered connection except msg.Exclude.
// The registry lock covers only the snapshot; a peer whose queue is full or
// that is already shutting down is logged and skipped, never removed here.
func (h *Hub) Broadcast(msg OutboundMessage) DeliveryReport {
	peers := h.registry.Snapshot(msg.Exclude)
	frame := msg.Frame()
	report := DeliveryReport{Targets: len(peers)}

	for _, peer := range peers {
		if err := peer.Send(frame); err != nil {
			report.Failed++
			h.logger.Warn("Delivery failed",
				"session_id", peer.ID(),
				"name", peer.Name(),
				"addr", peer.Addr(),
				"error", err)
			continue
		}
		report.Delivered++
	}

	h.delivered.Add(uint64(report.Delivered))
	h.failed.Add(uint64(report.Failed))
	h.logger.Debug("Broadcast", "targets", report.Targets, "delivered", report.Delivered, "failed", report.Failed)
	return report
}

// Stats returns the current hub counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Live:      h.registry.Len(),
		Pending:   h.registry.Pending(),
		Capacity:  h.registry.Capacity(),
		Accepted:  h.accepted.Load(),
		Rejected:  h.rejected.Load(),
		Delivered: h.delivered.Load(),
		Failed:    h.failed.Load(),
	}
}

// Shutdown stops admitting connections, closes every session's stream and
// waits for the sessions to finish, or returns context.DeadlineExceeded after
// timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-timer.C:
		h.logger.Warn("Hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
