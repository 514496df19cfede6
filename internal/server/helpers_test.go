package server

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/linkchat/internal/mocks"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 1
	cfg.AdminAddr = ""
	cfg.WriteTimeout = time.Second
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newIdleStream returns a mock stream that only tolerates bookkeeping calls:
// address lookups, read deadlines and closing.
func newIdleStream(t *testing.T) *mocks.MockStream {
	t.Helper()
	ctrl := gomock.NewController(t)
	stream := mocks.NewMockStream(ctrl)
	stream.EXPECT().RemoteAddr().Return("127.0.0.1:40000").AnyTimes()
	stream.EXPECT().Close().Return(nil).AnyTimes()
	stream.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
	return stream
}

func newTestConnection(t *testing.T, queueSize int) *Connection {
	t.Helper()
	return NewConnection(newIdleStream(t), uuid.NewString(), queueSize, time.Second, discardLogger())
}

// queued drains and returns whatever frames are waiting on c's queue.
func queued(c *Connection) []string {
	var frames []string
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return frames
			}
			frames = append(frames, string(frame))
		default:
			return frames
		}
	}
}
