// Package testhelpers provides common utilities for testing the linkchat hub.
//
// It wraps the plumbing shared by the server tests: starting a hub behind a
// real TCP listener, driving line-protocol clients, WebSocket clients and
// plain HTTP requests, so the tests read as scenarios.
package testhelpers

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linkchat/internal/server"
)

// ReadTimeout bounds every blocking read performed by the helpers.
const ReadTimeout = 2 * time.Second

// TestConfig returns a configuration suited to tests: the defaults with short
// timeouts and no admin listener.
func TestConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Port = 1
	cfg.AdminAddr = ""
	cfg.WriteTimeout = time.Second
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartChatServer runs a hub for cfg behind a loopback TCP listener and
// returns the hub and the listener address. Everything is torn down when the
// test ends.
func StartChatServer(t *testing.T, cfg server.Config) (*server.Hub, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := DiscardLogger()
	hub := server.NewHub(cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())

	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = server.NewServer(hub, logger).Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		<-served
		_ = hub.Shutdown(cfg.ShutdownTimeout)
	})
	return hub, ln.Addr().String()
}

// ChatClient is a line-protocol client used by tests.
type ChatClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// Dial opens a raw TCP connection to the chat listener without sending a name.
func Dial(t *testing.T, addr string) *ChatClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, ReadTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &ChatClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

// Join dials addr and sends name as the handshake frame.
func Join(t *testing.T, addr, name string) *ChatClient {
	t.Helper()
	client := Dial(t, addr)
	client.Send(name)
	return client
}

// Send writes one line.
func (c *ChatClient) Send(line string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(ReadTimeout)))
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

// ReadLine returns the next line without its terminator.
func (c *ChatClient) ReadLine() string {
	c.t.Helper()
	line, err := c.readLine(ReadTimeout)
	require.NoError(c.t, err)
	return line
}

// ExpectNoLine asserts that nothing arrives within wait.
func (c *ChatClient) ExpectNoLine(wait time.Duration) {
	c.t.Helper()
	line, err := c.readLine(wait)
	require.Error(c.t, err, "unexpected line %q", line)
	var netErr net.Error
	require.ErrorAs(c.t, err, &netErr)
	require.True(c.t, netErr.Timeout(), "expected a timeout, got %v", err)
}

// ExpectClosed asserts that the server closes the connection.
func (c *ChatClient) ExpectClosed() {
	c.t.Helper()
	line, err := c.readLine(ReadTimeout)
	require.ErrorIs(c.t, err, io.EOF, "expected EOF, got line %q", line)
}

// Close closes the client side of the connection.
func (c *ChatClient) Close() {
	_ = c.conn.Close()
}

func (c *ChatClient) readLine(wait time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return line, err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ConnectWebSocket opens a WebSocket connection to url with the given Origin
// header. The HTTP response is returned so callers can inspect refusals.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: ReadTimeout}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ReadWebSocketLine reads one text message from conn.
func ReadWebSocketLine(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// WaitForLive blocks until the hub registry holds want connections.
func WaitForLive(t *testing.T, hub *server.Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.Registry().Len() == want
	}, ReadTimeout, 5*time.Millisecond, "expected %d live sessions, have %d", want, hub.Registry().Len())
}
