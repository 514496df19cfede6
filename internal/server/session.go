package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// State is a step in a session's life.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session drives one connection from accept to close: name handshake,
// registration and join notice, message loop, leave notice and cleanup.
type Session struct {
	hub         *Hub
	conn        *Connection
	reservation *Reservation
	limiter     *lineLimiter
	logger      *slog.Logger
	state       atomic.Int32
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	s.logger.Debug("Session state changed", "state", state)
}

// Run executes the session until the client leaves, the stream fails, or ctx
// is cancelled. It always releases the registry slot and closes the stream.
func (s *Session) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.conn.closeStream)
	defer stop()

	active := false
	defer func() { s.close(active) }()

	s.setState(StateHandshaking)
	name, err := s.handshake()
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			s.logger.Info("Rejected handshake", "error", err)
		case isTimeout(err):
			s.logger.Info("Handshake timed out", "timeout", s.hub.cfg.HandshakeTimeout)
		default:
			s.logger.Info("Connection lost during handshake", "error", err)
		}
		return
	}

	if err := s.activate(name); err != nil {
		s.logger.Error("Failed to register session", "error", err)
		return
	}
	active = true

	s.messageLoop()
}

// handshake reads the name under its own deadline so that silent
// connections cannot hold a reserved slot indefinitely.
func (s *Session) handshake() (string, error) {
	s.setReadDeadline(time.Now().Add(s.hub.cfg.HandshakeTimeout))
	frame, truncated, err := s.conn.stream.ReadFrame(NameFrameSize - 1)
	if err != nil {
		return "", fmt.Errorf("read name: %w", err)
	}
	if truncated {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLen)
	}
	return ValidateName(string(frame))
}

func (s *Session) activate(name string) error {
	s.conn.name = name
	s.conn.joinedAt = time.Now()

	id, err := s.reservation.Commit(s.conn)
	if err != nil {
		return err
	}
	s.logger = s.logger.With("session_id", id, "name", name)
	s.conn.startWriter()
	s.setState(StateActive)

	s.logger.Info("Client joined", "live", s.hub.registry.Len())
	s.hub.Broadcast(OutboundMessage{Kind: KindJoin, Sender: name, Exclude: id})
	return nil
}

func (s *Session) messageLoop() {
	limit := s.hub.cfg.MaxMessageSize
	if s.hub.cfg.IdleTimeout <= 0 {
		s.setReadDeadline(time.Time{})
	}

	for {
		s.armIdleTimeout()
		frame, truncated, err := s.conn.stream.ReadFrame(limit)
		if err != nil {
			s.logReadError(err)
			return
		}

		line := string(frame)
		if strings.TrimSpace(line) == ExitCommand {
			s.logger.Info("Client sent exit")
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if truncated {
			s.logger.Debug("Truncated oversized line", "limit", limit)
		}
		if !s.limiter.allow() {
			s.logger.Warn("Rate limit exceeded; discarding line",
				"burst", s.hub.cfg.RateLimit.Burst,
				"interval", s.hub.cfg.RateLimit.RefillInterval)
			continue
		}

		s.hub.Broadcast(OutboundMessage{
			Kind:    KindChat,
			Sender:  s.conn.name,
			Text:    line,
			Exclude: s.conn.id,
		})
	}
}

func (s *Session) logReadError(err error) {
	switch {
	case isTimeout(err):
		s.logger.Info("Client timed out", "idle_timeout", s.hub.cfg.IdleTimeout)
	case isDisconnect(err):
		s.logger.Info("Client disconnected")
	default:
		s.logger.Warn("Read failed", "error", err)
	}
}

// close runs the departure path. The leave notice goes out only for sessions
// that reached StateActive; slot release and removal are both idempotent.
func (s *Session) close(active bool) {
	s.setState(StateClosing)

	if active {
		s.hub.Broadcast(OutboundMessage{Kind: KindLeave, Sender: s.conn.name, Exclude: s.conn.id})
		s.hub.registry.Remove(s.conn.id)
		s.logger.Info("Client left", "live", s.hub.registry.Len())
	}
	s.reservation.Release()
	s.conn.shutdown()

	s.setState(StateClosed)
}

func (s *Session) armIdleTimeout() {
	timeout := s.hub.cfg.IdleTimeout
	if timeout <= 0 {
		return
	}
	s.setReadDeadline(time.Now().Add(timeout))
}

func (s *Session) setReadDeadline(t time.Time) {
	if err := s.conn.stream.SetReadDeadline(t); err != nil {
		s.logger.Debug("Error setting read deadline", "error", err)
	}
}

// ValidateName trims surrounding whitespace and the line terminator from a
// handshake frame and checks the byte length against [MinNameLen, MaxNameLen].
func ValidateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if len(name) < MinNameLen || len(name) > MaxNameLen {
		return "", fmt.Errorf("%w: %d bytes, want %d to %d", ErrInvalidName, len(name), MinNameLen, MaxNameLen)
	}
	return name, nil
}
