// Package server defines shared message types and utility helpers that are
// reused across session and hub logic.
package server

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// SessionID identifies a registered connection. IDs are handed out by the
// Registry in increasing order and never reused within a process.
type SessionID uint64

// NoSession excludes nobody from a broadcast.
const NoSession SessionID = 0

// MessageKind distinguishes chat lines from membership notices.
type MessageKind int

const (
	KindChat MessageKind = iota
	KindJoin
	KindLeave
)

// OutboundMessage is one line to fan out to every registered connection
// except Exclude.
type OutboundMessage struct {
	Kind    MessageKind
	Sender  string
	Text    string
	Exclude SessionID
}

// Frame renders the message as it appears on the wire, without terminator.
func (m OutboundMessage) Frame() []byte {
	switch m.Kind {
	case KindJoin:
		return []byte(m.Sender + " has joined the chatroom")
	case KindLeave:
		return []byte(m.Sender + " has left the chatroom")
	default:
		return []byte(m.Sender + ": " + m.Text)
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// isDisconnect reports whether a read error means the peer went away rather
// than a transport fault.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return true
	}
	return isExpectedCloseError(err)
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
