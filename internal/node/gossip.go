package node

import (
	"log/slog"
	"net"
	"strconv"

	"meshchat/internal/errors"
	"meshchat/internal/network"
	"meshchat/internal/protocol"
)

// gossipRoster sends the current roster to every peer, the newly admitted
// one included. Each receiver dials whatever it is missing, so repeated
// gossip converges the overlay toward a full mesh.
func (n *Node) gossipRoster() {
	peers := n.reg.Snapshot()
	entries := make([]protocol.PeerEntry, 0, len(peers)+1)
	entries = append(entries, protocol.PeerEntry{Host: n.advHost, Port: n.port, Nick: n.Nickname()})
	for _, p := range peers {
		entries = append(entries, protocol.PeerEntry{Host: p.Host, Port: p.Port, Nick: p.Nick})
	}

	payload, err := protocol.EncodePeerList(entries)
	if err != nil {
		slog.Error("Failed to encode roster", "error", err)
		return
	}

	n.broadcastFrame(protocol.TypePeerList, payload)
}

// handlePeerList processes incoming roster gossip. Unknown addresses are
// dialed asynchronously so a slow or dead candidate never stalls the
// dispatcher; duplicates are naturally rejected at registration.
func (n *Node) handlePeerList(peerID string, conn net.Conn, payload []byte) {
	entries, err := protocol.DecodePeerList(payload)
	if err != nil {
		slog.Warn("Dropping peer after malformed roster", "peer", shortID(peerID), "error", err)
		n.removePeer(peerID, conn, "protocol violation")
		return
	}

	n.emitRoster()

	for _, e := range entries {
		if e.Port <= 0 || e.Port > 65535 || e.Host == "" {
			continue
		}
		if n.isSelf(e.Host, e.Port) || n.reg.Connected(e.Host, e.Port) {
			continue
		}
		addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.dialPeer(addr); err != nil {
				slog.Debug("Gossip dial failed", "addr", addr, "error", err)
				n.emit(DebugEvent{Text: "gossip dial " + addr + " failed"})
			}
		}()
	}
}

// ConnectToPeer dials a peer by address on behalf of the user. Unlike
// gossip dials, failures are reported back so the front-end can show them.
func (n *Node) ConnectToPeer(addr string) error {
	if !n.running.Load() {
		return errors.NewValidationError("node", addr, "node is not running")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.NewValidationError("peer_addr", addr, "must be host:port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return errors.NewValidationError("peer_addr", addr, "port out of range")
	}
	if n.isSelf(host, port) {
		return errors.NewValidationError("peer_addr", addr, "cannot connect to self")
	}
	if n.reg.Connected(host, port) {
		return errors.NewValidationError("peer_addr", addr, "already connected")
	}

	return n.dialPeer(net.JoinHostPort(host, strconv.Itoa(port)))
}

// dialPeer opens an outbound connection, runs the active handshake leg and
// hands the connection to a dispatcher loop. A crossed simultaneous dial
// loses at registration and the losing socket is closed here.
func (n *Node) dialPeer(addr string) error {
	conn, err := network.Dial(addr, n.cfg.DialTimeout)
	if err != nil {
		return err
	}

	entry, err := n.handshakeActive(conn)
	if err != nil {
		conn.Close()
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.dispatchLoop(entry.ID, conn)
	}()
	return nil
}

// isSelf reports whether an advertised address is this node's own listen
// endpoint. Loopback aliases collapse so gossip on a single host never
// dials back into itself.
func (n *Node) isSelf(host string, port int) bool {
	if port != n.port {
		return false
	}
	if host == n.advHost {
		return true
	}
	hIP := net.ParseIP(host)
	aIP := net.ParseIP(n.advHost)
	if hIP != nil && aIP != nil && hIP.IsLoopback() && aIP.IsLoopback() {
		return true
	}
	return host == "localhost" && aIP != nil && aIP.IsLoopback()
}
