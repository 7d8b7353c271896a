// Package node implements the peer overlay engine: listening and dialing,
// the connection handshake, per-connection frame dispatch, gossip-driven
// mesh formation, heartbeat liveness and chunked file transfer.
package node

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"meshchat/internal/config"
	"meshchat/internal/errors"
	"meshchat/internal/filesystem"
	"meshchat/internal/network"
	"meshchat/internal/protocol"
	"meshchat/internal/registry"
)

// Node is one overlay participant: simultaneously a listener accepting
// inbound peers and an initiator dialing outbound ones.
type Node struct {
	cfg *config.Config
	id  string

	listener net.Listener
	advHost  string
	port     int

	reg    *registry.Registry
	events chan Event
	quit   chan struct{}
	done   chan struct{}

	nickMu   sync.RWMutex
	nickname string

	histMu  sync.Mutex
	history []string

	// Per-peer file transfer state. The maps are guarded by transfersMu;
	// each inbound entry is only ever advanced by its own dispatcher loop.
	transfersMu sync.Mutex
	inbound     map[string]*inboundTransfer
	offers      map[string]*outboundOffer

	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a node from a validated configuration. The connection id is
// generated once here and identifies this node for the process lifetime,
// independent of any particular TCP connection.
func New(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewValidationError("config", cfg.String(), err.Error())
	}

	return &Node{
		cfg:      cfg,
		id:       uuid.NewString(),
		reg:      registry.New(),
		events:   make(chan Event, cfg.EventBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		nickname: cfg.Nickname,
		inbound:  make(map[string]*inboundTransfer),
		offers:   make(map[string]*outboundOffer),
	}, nil
}

// Start binds the listen socket and launches the accept and heartbeat
// loops. A bind failure (port already in use) is fatal and returned to the
// caller; nothing is retried internally.
func (n *Node) Start() error {
	if err := filesystem.EnsureDirectoryExists(n.cfg.DownloadsDir); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", n.cfg.ListenAddress)
	if err != nil {
		return errors.NewNetworkError("listen", n.cfg.ListenAddress, err)
	}
	n.listener = listener

	// With port 0 the OS picks; recover the actual port for gossip.
	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		listener.Close()
		return errors.NewNetworkError("listen", listener.Addr().String(), err)
	}
	n.port, _ = strconv.Atoi(portStr)
	n.advHost = advertiseHost(n.cfg.ListenAddress)

	if n.nickname == "" {
		n.nickname = fmt.Sprintf("User_%d", n.port)
	}

	n.running.Store(true)

	n.wg.Add(1)
	go n.acceptLoop()

	n.wg.Add(1)
	go n.heartbeatLoop()

	slog.Info("Node started",
		"address", n.Addr(),
		"conn_id", shortID(n.id),
		"nickname", n.Nickname())
	return nil
}

// Stop shuts the node down: the accept loop unblocks on the closed
// listener, every registered peer is forcibly removed (closing its stream
// unblocks that dispatcher loop), and background goroutines drain. Safe to
// call more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.running.Store(false)
		close(n.quit)

		if n.listener != nil {
			n.listener.Close()
		}

		for _, entry := range n.reg.Snapshot() {
			n.removePeer(entry.ID, nil, "shutdown")
		}

		n.wg.Wait()
		close(n.done)
		slog.Info("Node stopped", "conn_id", shortID(n.id))
	})
}

// ID returns this node's process-lifetime connection id.
func (n *Node) ID() string { return n.id }

// Port returns the actual bound listen port, valid after Start.
func (n *Node) Port() int { return n.port }

// Addr returns the address this node advertises in gossip.
func (n *Node) Addr() string {
	return net.JoinHostPort(n.advHost, strconv.Itoa(n.port))
}

// Events returns the channel the front-end drains. It is never closed;
// Done signals shutdown instead.
func (n *Node) Events() <-chan Event { return n.events }

// Done is closed once Stop has finished tearing the node down.
func (n *Node) Done() <-chan struct{} { return n.done }

// Nickname returns the current local nickname.
func (n *Node) Nickname() string {
	n.nickMu.RLock()
	defer n.nickMu.RUnlock()
	return n.nickname
}

// Roster returns the current membership view, peers first and self last.
func (n *Node) Roster() []RosterEntry {
	peers := n.reg.Snapshot()
	roster := make([]RosterEntry, 0, len(peers)+1)
	for _, p := range peers {
		roster = append(roster, RosterEntry{Address: p.Addr(), Nick: p.Nick})
	}
	return append(roster, RosterEntry{Address: n.Addr(), Nick: n.Nickname()})
}

// History returns a copy of the locally observed chat history.
func (n *Node) History() []string {
	n.histMu.Lock()
	defer n.histMu.Unlock()
	out := make([]string, len(n.history))
	copy(out, n.history)
	return out
}

// SendText broadcasts a chat line to every connected peer. The line is
// sender-prefixed by convention so receivers render it as-is.
func (n *Node) SendText(text string) {
	line := fmt.Sprintf("%s: %s", n.Nickname(), text)
	n.appendHistory(line)
	n.broadcastFrame(protocol.TypeText, []byte(line))
	n.emit(MessageEvent{Text: line})
}

// ChangeNickname updates the local nickname and announces it. Receivers
// update their registries and rebroadcast their rosters.
func (n *Node) ChangeNickname(nick string) error {
	if nick == "" {
		return errors.NewValidationError("nickname", nick, "must not be empty")
	}

	n.nickMu.Lock()
	n.nickname = nick
	n.nickMu.Unlock()

	n.broadcastFrame(protocol.TypeNick, []byte(nick))
	n.emitRoster()
	return nil
}

// ClearHistory wipes local history and tells every peer to do the same.
func (n *Node) ClearHistory() {
	n.broadcastFrame(protocol.TypeClearHistory, nil)
	n.clearHistoryLocal()
}

// acceptLoop accepts inbound connections until the listener closes.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if !n.running.Load() {
				return
			}
			slog.Error("Failed to accept connection", "error", err)
			continue
		}

		n.wg.Add(1)
		go n.handleInbound(conn)
	}
}

// handleInbound runs the passive handshake leg and, on success, the
// dispatcher loop for the new peer. Errors here are connection-local.
func (n *Node) handleInbound(conn net.Conn) {
	defer n.wg.Done()

	if err := network.Tune(conn); err != nil {
		slog.Warn("Failed to tune inbound connection", "error", err)
	}

	entry, err := n.handshakePassive(conn)
	if err != nil {
		slog.Info("Inbound handshake rejected",
			"remote_addr", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	n.dispatchLoop(entry.ID, conn)
}

// heartbeatLoop broadcasts an empty BEAT frame at a fixed interval. There
// is no ack; heartbeats exist so the read-timeout detector on the other
// side always has recent traffic to observe.
func (n *Node) heartbeatLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !n.running.Load() {
				return
			}
			n.broadcastFrame(protocol.TypeHeartbeat, nil)
		case <-n.quit:
			return
		}
	}
}

// broadcastFrame fans a frame out to every connected peer. A failed write
// is treated as that peer's death: it is removed, which recurses into a
// disconnect broadcast to the survivors.
func (n *Node) broadcastFrame(ftype protocol.FrameType, payload []byte) {
	for _, entry := range n.reg.Snapshot() {
		if err := protocol.WriteFrame(entry.Conn, ftype, payload, n.cfg.WriteTimeout); err != nil {
			slog.Warn("Broadcast write failed",
				"peer", shortID(entry.ID), "type", string(ftype), "error", err)
			n.removePeer(entry.ID, entry.Conn, "broadcast write failed")
		}
	}
}

// removePeer is the single teardown path for a connection, no matter which
// code path detected the failure. It is idempotent and safe to call from
// several dispatcher loops at once: the registry pop decides the winner,
// and only the winner runs the cleanup effects. A non-nil conn scopes the
// removal to that socket, so tearing down a link that was since replaced
// by a crossed-dial winner is a no-op. nil removes unconditionally.
func (n *Node) removePeer(id string, conn net.Conn, reason string) {
	var entry registry.Entry
	var ok bool
	if conn != nil {
		entry, ok = n.reg.RemoveConn(id, conn)
	} else {
		entry, ok = n.reg.Remove(id)
	}
	if !ok {
		if conn != nil {
			conn.Close()
		}
		return
	}

	entry.Conn.Close()
	n.dropTransferState(id)

	slog.Info("Peer removed", "peer", shortID(id), "nick", entry.Nick, "reason", reason)

	line := fmt.Sprintf("%s disconnected", entry.Nick)
	if n.running.Load() {
		n.broadcastFrame(protocol.TypeText, []byte(line))
	}
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})
	n.emitRoster()
	if n.running.Load() {
		n.gossipRoster()
	}
}

// emit delivers an event without ever blocking an engine goroutine. If the
// front-end has fallen this far behind, the event is dropped.
func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		slog.Warn("Event channel full, dropping event")
	}
}

// emitRoster pushes the current roster (peers plus self) to the front-end.
func (n *Node) emitRoster() {
	n.emit(RosterEvent{Peers: n.Roster()})
}

func (n *Node) appendHistory(line string) {
	n.histMu.Lock()
	n.history = append(n.history, line)
	n.histMu.Unlock()
}

func (n *Node) clearHistoryLocal() {
	n.histMu.Lock()
	n.history = n.history[:0]
	n.histMu.Unlock()

	n.emit(ClearHistoryEvent{})

	notice := "chat history cleared"
	n.appendHistory(notice)
	n.emit(MessageEvent{Text: notice})
}

// PeerNick resolves a connected peer's display name, reporting whether the
// peer is still registered.
func (n *Node) PeerNick(id string) (string, bool) {
	entry, ok := n.reg.Lookup(id)
	return entry.Nick, ok
}

// peerNick resolves a display name for a peer id.
func (n *Node) peerNick(id string) string {
	if entry, ok := n.reg.Lookup(id); ok {
		return entry.Nick
	}
	return "Unknown"
}

// advertiseHost picks the host other peers should dial. An unspecified
// bind host (empty, 0.0.0.0, ::) is not dialable, so fall back to loopback.
func advertiseHost(listenAddr string) string {
	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil || host == "" {
		return "127.0.0.1"
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return "127.0.0.1"
	}
	if host == "localhost" {
		return "127.0.0.1"
	}
	return host
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
