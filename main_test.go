package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshchat/internal/config"
	"meshchat/internal/node"
)

func startTestNode(t *testing.T, nick string) *node.Node {
	t.Helper()

	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.Nickname = nick
	cfg.DownloadsDir = t.TempDir()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.DialTimeout = 2 * time.Second

	n, err := node.New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)
	return n
}

func TestConsoleCommandsDriveTheNode(t *testing.T) {
	a := startTestNode(t, "alice")
	b := startTestNode(t, "bob")

	var pending []string
	require.False(t, handleConsoleInput(a, "/connect "+b.Addr(), &pending))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(b.Roster()) < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, b.Roster(), 2, "console connect established the link")

	require.False(t, handleConsoleInput(a, "/nick queen", &pending))
	assert.Equal(t, "queen", a.Nickname())

	require.False(t, handleConsoleInput(a, "hello from the console", &pending))

	assert.True(t, handleConsoleInput(a, "/quit", &pending))
}

func TestConsoleRosterListing(t *testing.T) {
	a := startTestNode(t, "alice")

	lines := rosterLines(a)
	require.Len(t, lines, 1, "roster of a lone node is just itself")
	assert.Contains(t, lines[0], "alice")
	assert.Contains(t, lines[0], a.Addr())
}

func TestConsoleRejectsBadInput(t *testing.T) {
	a := startTestNode(t, "alice")

	var pending []string
	assert.False(t, handleConsoleInput(a, "/connect", &pending), "missing argument is not fatal")
	assert.False(t, handleConsoleInput(a, "/accept", &pending), "accept with no offer is not fatal")
	assert.False(t, handleConsoleInput(a, "/bogus", &pending))
	assert.False(t, handleConsoleInput(a, "   ", &pending))
}
