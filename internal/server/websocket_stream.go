package server

import (
	"bytes"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// readLimitFactor sizes the WebSocket read limit relative to the line
	// limit so that slightly oversized lines are truncated like on TCP while
	// abusive frames are refused by the library.
	readLimitFactor = 4

	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	pingWriteWait = 10 * time.Second
)

type webSocketStream struct {
	conn *websocket.Conn
	addr string

	pongWait time.Duration
	// deadline is the session's own read deadline. It is only touched from
	// the reading goroutine: SetReadDeadline and the pong handler, which
	// gorilla runs inside ReadMessage.
	deadline time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketStream adapts an upgraded WebSocket connection to a Stream.
// Every text message is one line; binary messages are ignored. The stream
// pings the peer periodically and drops it when pongs stop arriving.
func NewWebSocketStream(conn *websocket.Conn, addr string, maxMessageSize int) Stream {
	return newWebSocketStream(conn, addr, maxMessageSize, pongWait, pingPeriod)
}

func newWebSocketStream(conn *websocket.Conn, addr string, maxMessageSize int, wait, period time.Duration) *webSocketStream {
	s := &webSocketStream{
		conn:     conn,
		addr:     addr,
		pongWait: wait,
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(int64(maxMessageSize) * readLimitFactor)
	_ = s.refreshReadDeadline()
	conn.SetPongHandler(func(string) error {
		return s.refreshReadDeadline()
	})

	go s.keepalive(period)
	return s
}

// refreshReadDeadline applies the earlier of the keepalive window and the
// session's own deadline.
func (s *webSocketStream) refreshReadDeadline() error {
	deadline := time.Now().Add(s.pongWait)
	if !s.deadline.IsZero() && s.deadline.Before(deadline) {
		deadline = s.deadline
	}
	return s.conn.SetReadDeadline(deadline)
}

// keepalive sends pings until the stream is closed. WriteControl may run
// concurrently with the connection's single data writer.
func (s *webSocketStream) keepalive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *webSocketStream) ReadFrame(limit int) ([]byte, bool, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, false, err
		}
		if err := s.refreshReadDeadline(); err != nil {
			return nil, false, err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		data = bytes.TrimRight(data, "\r\n")
		if len(data) > limit {
			return trimPartialRune(data[:limit]), true, nil
		}
		return data, false, nil
	}
}

func (s *webSocketStream) WriteFrame(frame []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *webSocketStream) SetReadDeadline(t time.Time) error {
	s.deadline = t
	return s.refreshReadDeadline()
}

func (s *webSocketStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func (s *webSocketStream) RemoteAddr() string {
	return s.addr
}

func (s *webSocketStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close()
}
