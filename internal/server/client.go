// Package server manages individual chat connections: the outbound queue, the
// single writer goroutine per connection, and orderly shutdown.
package server

import (
	"log/slog"
	"sync"
	"time"
)

// Connection is one accepted stream plus its negotiated identity. The owning
// Session is the only reader; the writer goroutine is the only writer, so
// frames handed to Send never interleave on the wire.
type Connection struct {
	id           SessionID
	name         string
	addr         string
	traceID      string
	joinedAt     time.Time
	stream       Stream
	send         chan []byte
	writeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewConnection creates a Connection around stream with an outbound queue of
// queueSize frames. The connection has no identity until its session
// completes the handshake.
func NewConnection(stream Stream, traceID string, queueSize int, writeTimeout time.Duration, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		addr:         stream.RemoteAddr(),
		traceID:      traceID,
		stream:       stream,
		send:         make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// ID returns the session id assigned at registration, or NoSession.
func (c *Connection) ID() SessionID { return c.id }

// Name returns the display name negotiated during the handshake.
func (c *Connection) Name() string { return c.name }

// Addr returns the remote address of the underlying stream.
func (c *Connection) Addr() string { return c.addr }

// TraceID returns the id attached to every log line of this connection.
func (c *Connection) TraceID() string { return c.traceID }

// JoinedAt returns when the connection became active.
func (c *Connection) JoinedAt() time.Time { return c.joinedAt }

// Send queues one frame for delivery without blocking. It fails when the
// queue is full or the connection is shutting down.
func (c *Connection) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// startWriter launches the writer goroutine. It is a no-op after the first call.
func (c *Connection) startWriter() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.closed {
		return
	}
	c.started = true
	go c.writePump()
}

func (c *Connection) writePump() {
	defer close(c.done)

	for frame := range c.send {
		if err := c.writeFrame(frame); err != nil {
			if !isExpectedCloseError(err) {
				c.logger.Warn("Write failed, closing connection", "error", err)
			}
			// Closing the stream fails the session's pending read, which
			// runs the normal departure path.
			c.closeStream()
			return
		}
	}
}

func (c *Connection) writeFrame(frame []byte) error {
	if err := c.stream.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.stream.WriteFrame(frame)
}

// shutdown stops accepting frames, lets the writer flush what is queued for
// at most the write timeout, and closes the stream.
func (c *Connection) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	close(c.send)
	c.mu.Unlock()

	if started {
		timer := time.NewTimer(c.writeTimeout)
		select {
		case <-c.done:
		case <-timer.C:
			c.logger.Warn("Timed out flushing queued frames")
		}
		timer.Stop()
	}
	c.closeStream()
}

func (c *Connection) closeStream() {
	if err := c.stream.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("Error closing stream", "error", err)
	}
}
