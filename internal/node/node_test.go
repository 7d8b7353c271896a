package node

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshchat/internal/config"
)

// testNode starts a node on an ephemeral loopback port with fast timeouts
// and registers cleanup.
func testNode(t *testing.T, nick string) *Node {
	t.Helper()

	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.Nickname = nick
	cfg.DownloadsDir = t.TempDir()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	cfg.DialTimeout = 2 * time.Second

	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)
	return n
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), msg)
}

// drainUntil consumes events until pred matches one or the deadline passes.
func drainUntil(t *testing.T, n *Node, timeout time.Duration, pred func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-n.Events():
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("event not observed within %s", timeout)
			return nil
		}
	}
}

func lastMessage(ev Event) (string, bool) {
	m, ok := ev.(MessageEvent)
	return m.Text, ok
}

func TestHandshakeRegistersBothSides(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")

	require.NoError(t, a.ConnectToPeer(b.Addr()))

	waitFor(t, 2*time.Second, func() bool {
		return a.reg.Len() == 1 && b.reg.Len() == 1
	}, "both registries hold one peer")

	aView, ok := a.reg.Lookup(b.ID())
	require.True(t, ok)
	assert.Equal(t, "bob", aView.Nick)
	assert.Equal(t, b.Port(), aView.Port)

	bView, ok := b.reg.Lookup(a.ID())
	require.True(t, ok)
	assert.Equal(t, "alice", bView.Nick)
	assert.Equal(t, a.Port(), bView.Port)
}

func TestDuplicateConnectRejected(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")

	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return a.reg.Len() == 1 }, "first link up")

	err := a.ConnectToPeer(b.Addr())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already connected")
	assert.Equal(t, 1, a.reg.Len())
}

func TestConnectToSelfRejected(t *testing.T) {
	a := testNode(t, "alice")

	err := a.ConnectToPeer(a.Addr())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "self")

	err = a.ConnectToPeer(fmt.Sprintf("localhost:%d", a.Port()))
	require.Error(t, err, "loopback alias of own endpoint is still self")
}

func TestGossipBuildsFullMesh(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	c := testNode(t, "carol")

	// a joins b, c joins b; gossip should introduce a and c to each other.
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	require.NoError(t, c.ConnectToPeer(b.Addr()))

	waitFor(t, 3*time.Second, func() bool {
		return a.reg.Len() == 2 && b.reg.Len() == 2 && c.reg.Len() == 2
	}, "three nodes converge to a full mesh")

	_, ok := a.reg.Lookup(c.ID())
	assert.True(t, ok, "a learned of c through gossip")
}

func TestCrossedDialsSettleOnOneLink(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")

	// Both sides dial at once; the tie-break must keep exactly one socket
	// alive on each side instead of each node killing the other's link.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a.ConnectToPeer(b.Addr()) }()
	go func() { defer wg.Done(); b.ConnectToPeer(a.Addr()) }()
	wg.Wait()

	waitFor(t, 3*time.Second, func() bool {
		return a.reg.Len() == 1 && b.reg.Len() == 1
	}, "crossed dials settle on a single link")

	// The surviving link must carry traffic both ways.
	a.SendText("ping")
	drainUntil(t, b, 2*time.Second, func(ev Event) bool {
		text, ok := lastMessage(ev)
		return ok && text == "alice: ping"
	})
	b.SendText("pong")
	drainUntil(t, a, 2*time.Second, func(ev Event) bool {
		text, ok := lastMessage(ev)
		return ok && text == "bob: pong"
	})

	assert.Equal(t, 1, a.reg.Len(), "link held after traffic")
	assert.Equal(t, 1, b.reg.Len(), "link held after traffic")
}

func TestTextBroadcastReachesAllPeers(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return b.reg.Len() == 1 }, "link up")

	a.SendText("hello mesh")

	ev := drainUntil(t, b, 2*time.Second, func(ev Event) bool {
		text, ok := lastMessage(ev)
		return ok && text == "alice: hello mesh"
	})
	assert.Equal(t, "alice: hello mesh", ev.(MessageEvent).Text)

	waitFor(t, time.Second, func() bool {
		for _, line := range b.History() {
			if line == "alice: hello mesh" {
				return true
			}
		}
		return false
	}, "line recorded in receiver history")
}

func TestNicknamePropagates(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return b.reg.Len() == 1 }, "link up")

	require.NoError(t, a.ChangeNickname("queen"))

	waitFor(t, 2*time.Second, func() bool {
		entry, ok := b.reg.Lookup(a.ID())
		return ok && entry.Nick == "queen"
	}, "receiver updates its registry entry")

	require.Error(t, a.ChangeNickname(""), "empty nickname rejected")
}

func TestDefaultNicknameFromPort(t *testing.T) {
	a := testNode(t, "")
	assert.Regexp(t, `^User_\d+$`, a.Nickname())
}

func TestClearHistoryPropagates(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return b.reg.Len() == 1 }, "link up")

	a.SendText("doomed line")
	drainUntil(t, b, 2*time.Second, func(ev Event) bool {
		text, ok := lastMessage(ev)
		return ok && text == "alice: doomed line"
	})

	a.ClearHistory()

	drainUntil(t, b, 2*time.Second, func(ev Event) bool {
		_, ok := ev.(ClearHistoryEvent)
		return ok
	})
	waitFor(t, time.Second, func() bool {
		hist := b.History()
		return len(hist) == 1 && hist[0] == "chat history cleared"
	}, "receiver history wiped")
}

func TestPeerRemovalOnDisconnect(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return b.reg.Len() == 1 }, "link up")

	b.Stop()

	waitFor(t, 3*time.Second, func() bool { return a.reg.Len() == 0 }, "survivor drops the dead peer")

	drainUntil(t, a, 2*time.Second, func(ev Event) bool {
		text, ok := lastMessage(ev)
		return ok && text == "bob disconnected"
	})
}

func TestRemovePeerIdempotent(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return a.reg.Len() == 1 }, "link up")

	id := b.ID()
	a.removePeer(id, nil, "test")
	a.removePeer(id, nil, "test again")
	assert.Equal(t, 0, a.reg.Len())
}

func TestFileTransferAccept(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return b.reg.Len() == 1 }, "link up")

	// Payload larger than one chunk so streaming actually loops.
	content := make([]byte, 10*1024+17)
	for i := range content {
		content[i] = byte(i % 251)
	}
	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(src, content, 0644))

	require.NoError(t, a.SendFile(src))

	ev := drainUntil(t, b, 2*time.Second, func(ev Event) bool {
		_, ok := ev.(FileRequestEvent)
		return ok
	})
	req := ev.(FileRequestEvent)
	assert.Equal(t, "payload.bin", req.Name)
	assert.Equal(t, int64(len(content)), req.Size)

	require.NoError(t, b.RespondFile(req.PeerID, true))

	dest := filepath.Join(b.cfg.DownloadsDir, "payload.bin")
	waitFor(t, 3*time.Second, func() bool {
		got, err := os.ReadFile(dest)
		return err == nil && len(got) == len(content)
	}, "file fully received")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got, "received bytes match the source")
}

func TestConcurrentTransfersFromTwoPeers(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	c := testNode(t, "carol")
	require.NoError(t, a.ConnectToPeer(c.Addr()))
	require.NoError(t, b.ConnectToPeer(c.Addr()))
	waitFor(t, 3*time.Second, func() bool {
		return a.reg.Len() == 2 && b.reg.Len() == 2 && c.reg.Len() == 2
	}, "mesh up")

	// Each sender's payload spans many chunks so the two interleave.
	mkFile := func(name string, fill byte) (string, []byte) {
		content := make([]byte, 64*1024+int(fill))
		for i := range content {
			content[i] = fill
		}
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, os.WriteFile(path, content, 0644))
		return path, content
	}
	aPath, aContent := mkFile("from_alice.bin", 3)
	bPath, bContent := mkFile("from_bob.bin", 7)

	require.NoError(t, a.SendFile(aPath))
	require.NoError(t, b.SendFile(bPath))

	accepted := map[string]bool{}
	for len(accepted) < 2 {
		ev := drainUntil(t, c, 2*time.Second, func(ev Event) bool {
			_, ok := ev.(FileRequestEvent)
			return ok
		})
		req := ev.(FileRequestEvent)
		require.NoError(t, c.RespondFile(req.PeerID, true))
		accepted[req.Name] = true
	}
	require.True(t, accepted["from_alice.bin"])
	require.True(t, accepted["from_bob.bin"])

	for _, want := range []struct {
		name    string
		content []byte
	}{
		{"from_alice.bin", aContent},
		{"from_bob.bin", bContent},
	} {
		dest := filepath.Join(c.cfg.DownloadsDir, want.name)
		waitFor(t, 4*time.Second, func() bool {
			got, err := os.ReadFile(dest)
			return err == nil && len(got) == len(want.content)
		}, "both interleaved streams complete")
		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, want.content, got)
	}
}

func TestFileTransferCollisionRename(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return b.reg.Len() == 1 }, "link up")

	// Occupy the announced name so the receiver must rename.
	require.NoError(t, os.WriteFile(filepath.Join(b.cfg.DownloadsDir, "notes.txt"), []byte("old"), 0644))

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("fresh content"), 0644))
	require.NoError(t, a.SendFile(src))

	ev := drainUntil(t, b, 2*time.Second, func(ev Event) bool {
		_, ok := ev.(FileRequestEvent)
		return ok
	})
	require.NoError(t, b.RespondFile(ev.(FileRequestEvent).PeerID, true))

	renamed := filepath.Join(b.cfg.DownloadsDir, "notes_1.txt")
	waitFor(t, 3*time.Second, func() bool {
		got, err := os.ReadFile(renamed)
		return err == nil && string(got) == "fresh content"
	}, "collision resolved with suffixed name")

	old, err := os.ReadFile(filepath.Join(b.cfg.DownloadsDir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old), "existing file untouched")
}

func TestFileTransferDecline(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return b.reg.Len() == 1 }, "link up")

	src := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(src, []byte("nope"), 0644))
	require.NoError(t, a.SendFile(src))

	ev := drainUntil(t, b, 2*time.Second, func(ev Event) bool {
		_, ok := ev.(FileRequestEvent)
		return ok
	})
	peerID := ev.(FileRequestEvent).PeerID
	require.NoError(t, b.RespondFile(peerID, false))

	// Sender consumes its offer and reports the decline.
	drainUntil(t, a, 2*time.Second, func(ev Event) bool {
		text, ok := lastMessage(ev)
		return ok && text == "bob declined file secret.txt"
	})

	// Declining left nothing on disk and no pending entry to answer again.
	entries, err := os.ReadDir(b.cfg.DownloadsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.Error(t, b.RespondFile(peerID, true))
}

func TestSendFileZeroBytes(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))
	waitFor(t, 2*time.Second, func() bool { return b.reg.Len() == 1 }, "link up")

	src := filepath.Join(t.TempDir(), "empty.dat")
	require.NoError(t, os.WriteFile(src, nil, 0644))
	require.NoError(t, a.SendFile(src))

	ev := drainUntil(t, b, 2*time.Second, func(ev Event) bool {
		_, ok := ev.(FileRequestEvent)
		return ok
	})
	require.NoError(t, b.RespondFile(ev.(FileRequestEvent).PeerID, true))

	dest := filepath.Join(b.cfg.DownloadsDir, "empty.dat")
	waitFor(t, 2*time.Second, func() bool {
		stat, err := os.Stat(dest)
		return err == nil && stat.Size() == 0
	}, "zero-size file finalized at accept time")
}

func TestSendFileRequiresPeers(t *testing.T) {
	a := testNode(t, "alice")

	src := filepath.Join(t.TempDir(), "lonely.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	err := a.SendFile(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connected peers")

	require.Error(t, a.SendFile(t.TempDir()), "directories cannot be offered")
}

func TestRosterEventIncludesSelf(t *testing.T) {
	a := testNode(t, "alice")
	b := testNode(t, "bob")
	require.NoError(t, a.ConnectToPeer(b.Addr()))

	ev := drainUntil(t, a, 2*time.Second, func(ev Event) bool {
		r, ok := ev.(RosterEvent)
		return ok && len(r.Peers) == 2
	})
	nicks := make(map[string]bool)
	for _, p := range ev.(RosterEvent).Peers {
		nicks[p.Nick] = true
	}
	assert.True(t, nicks["alice"], "roster includes self")
	assert.True(t, nicks["bob"])
}

func TestStopIsIdempotentAndSignalsDone(t *testing.T) {
	a := testNode(t, "alice")
	a.Stop()
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after stop")
	}

	require.Error(t, a.ConnectToPeer("127.0.0.1:1"), "stopped node refuses dials")
}

func TestAdvertiseHost(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{"0.0.0.0:9000", "127.0.0.1"},
		{":9000", "127.0.0.1"},
		{"[::]:9000", "127.0.0.1"},
		{"localhost:9000", "127.0.0.1"},
		{"192.168.1.5:9000", "192.168.1.5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, advertiseHost(tt.listen), tt.listen)
	}
}
