//go:generate go run go.uber.org/mock/mockgen -source=stream.go -destination=../mocks/mock_stream.go -package=mocks

// Package server defines the Stream transport abstraction and its TCP
// implementation. A Stream carries one chat client as a sequence of lines.
package server

import (
	"bufio"
	"net"
	"time"
	"unicode/utf8"
)

const tcpReadBufferSize = 4096

// Stream is a line-oriented, bidirectional transport for one chat client.
// One goroutine may read while another writes; Close may be called from any
// goroutine and unblocks both.
type Stream interface {
	// ReadFrame returns the next line without its terminator. Lines longer
	// than limit are cut to at most limit bytes on a character boundary, the
	// remainder is discarded and truncated is reported.
	ReadFrame(limit int) (frame []byte, truncated bool, err error)
	// WriteFrame sends one complete line. The terminator is added by the
	// transport.
	WriteFrame(frame []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

type tcpStream struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPStream wraps an accepted TCP connection as a newline-delimited Stream.
func NewTCPStream(conn net.Conn) Stream {
	return &tcpStream{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, tcpReadBufferSize),
	}
}

func (s *tcpStream) ReadFrame(limit int) ([]byte, bool, error) {
	return readBoundedLine(s.reader, limit)
}

// readBoundedLine never holds more than limit bytes of a line plus the
// reader's own fixed buffer, whatever the peer sends.
func readBoundedLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	frame := make([]byte, 0, min(limit, tcpReadBufferSize))
	truncated := false

	for {
		chunk, more, err := r.ReadLine()
		if err != nil {
			return nil, false, err
		}

		room := limit - len(frame)
		switch {
		case len(chunk) <= room:
			frame = append(frame, chunk...)
		case room > 0:
			frame = append(frame, chunk[:room]...)
			truncated = true
		default:
			truncated = true
		}

		if !more {
			if truncated {
				frame = trimPartialRune(frame)
			}
			return frame, truncated, nil
		}
	}
}

// trimPartialRune drops a trailing UTF-8 sequence left incomplete by a cut.
// Bytes that were never valid UTF-8 are left alone.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i]
		}
		return b
	}
	return b
}

func (s *tcpStream) WriteFrame(frame []byte) error {
	line := make([]byte, 0, len(frame)+1)
	line = append(line, frame...)
	line = append(line, '\n')
	_, err := s.conn.Write(line)
	return err
}

func (s *tcpStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *tcpStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func (s *tcpStream) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *tcpStream) Close() error {
	return s.conn.Close()
}
