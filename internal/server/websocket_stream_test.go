package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testPongWait   = 150 * time.Millisecond
	testPingPeriod = 40 * time.Millisecond
)

// webSocketPair returns the server side stream and the client connection of
// one upgraded WebSocket.
func webSocketPair(t *testing.T, maxMessageSize int) (*webSocketStream, *websocket.Conn) {
	t.Helper()
	streams := make(chan *webSocketStream, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		streams <- newWebSocketStream(conn, r.RemoteAddr, maxMessageSize, testPongWait, testPingPeriod)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case stream := <-streams:
		t.Cleanup(func() { _ = stream.Close() })
		return stream, client
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not complete")
		return nil, nil
	}
}

// drain reads from the client so that its default ping handler answers.
func drain(client *websocket.Conn) {
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func TestWebSocketStream_Keepalive_Holds_A_Responsive_Peer(t *testing.T) {
	req := require.New(t)
	stream, client := webSocketPair(t, 64)
	drain(client)

	go func() {
		time.Sleep(3 * testPongWait)
		_ = client.WriteMessage(websocket.TextMessage, []byte("still here"))
	}()

	frame, truncated, err := stream.ReadFrame(64)
	req.NoError(err)
	req.False(truncated)
	req.Equal("still here", string(frame))
}

func TestWebSocketStream_Keepalive_Drops_A_Silent_Peer(t *testing.T) {
	req := require.New(t)
	stream, _ := webSocketPair(t, 64)

	start := time.Now()
	_, _, err := stream.ReadFrame(64)
	req.Error(err)
	req.True(isTimeout(err), "expected a timeout, got %v", err)
	req.Less(time.Since(start), 2*time.Second)
}

func TestWebSocketStream_Session_Deadline_Wins_When_Earlier(t *testing.T) {
	req := require.New(t)
	stream, client := webSocketPair(t, 64)
	drain(client)

	start := time.Now()
	req.NoError(stream.SetReadDeadline(time.Now().Add(50 * time.Millisecond)))
	_, _, err := stream.ReadFrame(64)
	req.True(isTimeout(err), "expected a timeout, got %v", err)
	req.Less(time.Since(start), testPongWait)
}

func TestWebSocketStream_Truncates_On_A_Character_Boundary(t *testing.T) {
	req := require.New(t)
	stream, client := webSocketPair(t, 5)

	req.NoError(client.WriteMessage(websocket.TextMessage, []byte("éééé\r\n")))

	frame, truncated, err := stream.ReadFrame(5)
	req.NoError(err)
	req.True(truncated)
	req.Equal("éé", string(frame))
	req.True(utf8.Valid(frame))
}
