package server

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

type frameResult struct {
	frame     string
	truncated bool
}

func readAll(t *testing.T, input string, bufSize, limit int) []frameResult {
	t.Helper()
	reader := bufio.NewReaderSize(strings.NewReader(input), bufSize)

	var results []frameResult
	for {
		frame, truncated, err := readBoundedLine(reader, limit)
		if err == io.EOF {
			return results
		}
		require.NoError(t, err)
		results = append(results, frameResult{frame: string(frame), truncated: truncated})
	}
}

func TestReadBoundedLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  []frameResult
	}{
		{
			name:  "plain lines",
			input: "hello\nworld\n",
			limit: 64,
			want:  []frameResult{{frame: "hello"}, {frame: "world"}},
		},
		{
			name:  "crlf terminators",
			input: "hello\r\nworld\r\n",
			limit: 64,
			want:  []frameResult{{frame: "hello"}, {frame: "world"}},
		},
		{
			name:  "exactly at limit",
			input: "abcd\n",
			limit: 4,
			want:  []frameResult{{frame: "abcd"}},
		},
		{
			name:  "long line truncated and remainder discarded",
			input: strings.Repeat("x", 100) + "\nnext\n",
			limit: 10,
			want:  []frameResult{{frame: strings.Repeat("x", 10), truncated: true}, {frame: "next"}},
		},
		{
			name:  "empty line",
			input: "\nafter\n",
			limit: 10,
			want:  []frameResult{{frame: ""}, {frame: "after"}},
		},
		{
			name:  "cut backs off to a character boundary",
			input: "éééé\nnext\n",
			limit: 5,
			want:  []frameResult{{frame: "éé", truncated: true}, {frame: "next"}},
		},
		{
			name:  "character split across reader chunks",
			input: strings.Repeat("a", 15) + "é\n",
			limit: 16,
			want:  []frameResult{{frame: strings.Repeat("a", 15), truncated: true}},
		},
		{
			name:  "complete character at the limit is kept",
			input: "aé!\n",
			limit: 3,
			want:  []frameResult{{frame: "aé", truncated: true}},
		},
		{
			name:  "last line without terminator",
			input: "tail",
			limit: 10,
			want:  []frameResult{{frame: "tail"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, readAll(t, tt.input, 16, tt.limit))
		})
	}
}

func TestTrimPartialRune(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{name: "ascii", input: []byte("abc"), want: []byte("abc")},
		{name: "complete two byte", input: []byte("aé"), want: []byte("aé")},
		{name: "dangling lead byte", input: []byte("éé\xc3"), want: []byte("éé")},
		{name: "three byte cut after two", input: []byte("a\xe2\x82"), want: []byte("a")},
		{name: "four byte cut after three", input: []byte("ab\xf0\x9f\x98"), want: []byte("ab")},
		{name: "stray continuation bytes kept", input: []byte("a\x80\x80\x80\x80"), want: []byte("a\x80\x80\x80\x80")},
		{name: "empty", input: []byte{}, want: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trimPartialRune(tt.input)
			require.Equal(t, tt.want, got)
			if utf8.Valid(tt.want) {
				require.True(t, utf8.Valid(got))
			}
		})
	}
}

func TestTCPStream_WriteFrame_Appends_Newline(t *testing.T) {
	req := require.New(t)
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	stream := NewTCPStream(serverSide)
	defer stream.Close()

	go func() {
		_ = stream.SetWriteDeadline(time.Now().Add(time.Second))
		_ = stream.WriteFrame([]byte("Alice: hi"))
	}()

	req.NoError(clientSide.SetReadDeadline(time.Now().Add(time.Second)))
	line, err := bufio.NewReader(clientSide).ReadString('\n')
	req.NoError(err)
	req.Equal("Alice: hi\n", line)
	req.Equal("pipe", stream.RemoteAddr())
}

func TestTCPStream_ReadFrame_Over_Pipe(t *testing.T) {
	req := require.New(t)
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	stream := NewTCPStream(serverSide)
	defer stream.Close()

	go func() {
		_, _ = io.WriteString(clientSide, "Bob\n")
	}()

	req.NoError(stream.SetReadDeadline(time.Now().Add(time.Second)))
	frame, truncated, err := stream.ReadFrame(NameFrameSize - 1)
	req.NoError(err)
	req.False(truncated)
	req.Equal("Bob", string(frame))
}
