package server_test

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linkchat/internal/server"
	"github.com/Tyrowin/linkchat/internal/testhelpers"
)

const quietPeriod = 150 * time.Millisecond

func TestChat_Join_Message_And_Exit(t *testing.T) {
	req := require.New(t)
	hub, addr := testhelpers.StartChatServer(t, testhelpers.TestConfig())

	alice := testhelpers.Join(t, addr, "Alice")
	testhelpers.WaitForLive(t, hub, 1)

	bob := testhelpers.Join(t, addr, "Bob")
	testhelpers.WaitForLive(t, hub, 2)
	req.Equal("Bob has joined the chatroom", alice.ReadLine())

	alice.Send("hi")
	req.Equal("Alice: hi", bob.ReadLine())
	alice.ExpectNoLine(quietPeriod)

	alice.Send("exit")
	req.Equal("Alice has left the chatroom", bob.ReadLine())
	alice.ExpectClosed()
	testhelpers.WaitForLive(t, hub, 1)
}

func TestChat_Abrupt_Disconnect_Announces_Departure(t *testing.T) {
	req := require.New(t)
	hub, addr := testhelpers.StartChatServer(t, testhelpers.TestConfig())

	alice := testhelpers.Join(t, addr, "Alice")
	testhelpers.WaitForLive(t, hub, 1)
	bob := testhelpers.Join(t, addr, "Bob")
	testhelpers.WaitForLive(t, hub, 2)
	req.Equal("Bob has joined the chatroom", alice.ReadLine())

	bob.Close()
	req.Equal("Bob has left the chatroom", alice.ReadLine())
	testhelpers.WaitForLive(t, hub, 1)
}

func TestChat_Capacity_Rejects_Extra_Connection(t *testing.T) {
	req := require.New(t)
	cfg := testhelpers.TestConfig()
	cfg.MaxClients = 100
	hub, addr := testhelpers.StartChatServer(t, cfg)

	for i := range cfg.MaxClients {
		testhelpers.Join(t, addr, "user"+strings.Repeat("x", i%10))
	}
	testhelpers.WaitForLive(t, hub, cfg.MaxClients)

	extra := testhelpers.Dial(t, addr)
	extra.ExpectClosed()

	stats := hub.Stats()
	req.Equal(cfg.MaxClients, stats.Live)
	req.Equal(uint64(1), stats.Rejected)
	req.Equal(uint64(cfg.MaxClients), stats.Accepted)
}

func TestChat_Invalid_Name_Is_Disconnected_Silently(t *testing.T) {
	req := require.New(t)
	hub, addr := testhelpers.StartChatServer(t, testhelpers.TestConfig())

	alice := testhelpers.Join(t, addr, "Alice")
	testhelpers.WaitForLive(t, hub, 1)

	short := testhelpers.Join(t, addr, "x")
	short.ExpectClosed()

	long := testhelpers.Join(t, addr, strings.Repeat("n", 40))
	long.ExpectClosed()

	alice.ExpectNoLine(quietPeriod)
	req.Equal(1, hub.Registry().Len())
	req.Equal(0, hub.Registry().Pending())
}

func TestChat_Long_Line_Is_Truncated(t *testing.T) {
	req := require.New(t)
	cfg := testhelpers.TestConfig()
	cfg.MaxMessageSize = 16
	hub, addr := testhelpers.StartChatServer(t, cfg)

	alice := testhelpers.Join(t, addr, "Alice")
	testhelpers.WaitForLive(t, hub, 1)
	bob := testhelpers.Join(t, addr, "Bob")
	testhelpers.WaitForLive(t, hub, 2)
	req.Equal("Bob has joined the chatroom", alice.ReadLine())

	alice.Send(strings.Repeat("a", 16) + strings.Repeat("b", 24))
	req.Equal("Alice: "+strings.Repeat("a", 16), bob.ReadLine())

	alice.Send("next")
	req.Equal("Alice: next", bob.ReadLine())
}

func TestChat_Session_Ids_Are_Not_Reused(t *testing.T) {
	req := require.New(t)
	hub, addr := testhelpers.StartChatServer(t, testhelpers.TestConfig())

	first := testhelpers.Join(t, addr, "First")
	testhelpers.WaitForLive(t, hub, 1)
	firstID := hub.Registry().Sessions()[0].ID

	first.Send("exit")
	first.ExpectClosed()
	testhelpers.WaitForLive(t, hub, 0)

	testhelpers.Join(t, addr, "Second")
	testhelpers.WaitForLive(t, hub, 1)
	req.Greater(hub.Registry().Sessions()[0].ID, firstID)
}

func TestChat_Default_Config_Delivers_Every_Line(t *testing.T) {
	req := require.New(t)
	hub, addr := testhelpers.StartChatServer(t, server.DefaultConfig())

	alice := testhelpers.Join(t, addr, "Alice")
	testhelpers.WaitForLive(t, hub, 1)
	bob := testhelpers.Join(t, addr, "Bob")
	testhelpers.WaitForLive(t, hub, 2)
	req.Equal("Bob has joined the chatroom", alice.ReadLine())

	const lines = 30
	for i := range lines {
		alice.Send(fmt.Sprintf("line %d", i))
	}
	for i := range lines {
		req.Equal(fmt.Sprintf("Alice: line %d", i), bob.ReadLine())
	}
	bob.ExpectNoLine(quietPeriod)
}

func TestChat_Truncation_Keeps_Valid_UTF8(t *testing.T) {
	req := require.New(t)
	cfg := testhelpers.TestConfig()
	cfg.MaxMessageSize = 5
	hub, addr := testhelpers.StartChatServer(t, cfg)

	alice := testhelpers.Join(t, addr, "Alice")
	testhelpers.WaitForLive(t, hub, 1)
	bob := testhelpers.Join(t, addr, "Bob")
	testhelpers.WaitForLive(t, hub, 2)
	req.Equal("Bob has joined the chatroom", alice.ReadLine())

	alice.Send("éééé")
	line := bob.ReadLine()
	req.Equal("Alice: éé", line)
	req.True(utf8.ValidString(line))
}

func TestChat_Idle_Client_Is_Disconnected(t *testing.T) {
	req := require.New(t)
	cfg := testhelpers.TestConfig()
	cfg.IdleTimeout = 500 * time.Millisecond
	hub, addr := testhelpers.StartChatServer(t, cfg)

	alice := testhelpers.Join(t, addr, "Alice")
	testhelpers.WaitForLive(t, hub, 1)
	bob := testhelpers.Join(t, addr, "Bob")
	testhelpers.WaitForLive(t, hub, 2)
	req.Equal("Bob has joined the chatroom", alice.ReadLine())

	// Bob keeps talking while Alice only listens; receiving does not count
	// as activity
	for range 2 {
		time.Sleep(100 * time.Millisecond)
		bob.Send("ping")
		req.Equal("Bob: ping", alice.ReadLine())
	}

	req.Equal("Alice has left the chatroom", bob.ReadLine())
	alice.ExpectClosed()
	testhelpers.WaitForLive(t, hub, 1)
}

func TestChat_Silent_Connection_Releases_Its_Slot(t *testing.T) {
	req := require.New(t)
	cfg := testhelpers.TestConfig()
	cfg.MaxClients = 1
	cfg.HandshakeTimeout = 200 * time.Millisecond
	hub, addr := testhelpers.StartChatServer(t, cfg)

	silent := testhelpers.Dial(t, addr)
	require.Eventually(t, func() bool { return hub.Registry().Pending() == 1 }, testhelpers.ReadTimeout, 5*time.Millisecond)

	silent.ExpectClosed()
	require.Eventually(t, func() bool { return hub.Registry().Pending() == 0 }, testhelpers.ReadTimeout, 5*time.Millisecond)

	testhelpers.Join(t, addr, "Alice")
	testhelpers.WaitForLive(t, hub, 1)
	req.Equal(uint64(0), hub.Stats().Rejected)
}
