package node

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"meshchat/internal/errors"
	"meshchat/internal/protocol"
	"meshchat/internal/registry"
)

// handshakeActive runs the initiator leg on a freshly dialed connection:
// send our hello first, then read the remote one. The connection is not
// registered until both hellos validated.
func (n *Node) handshakeActive(conn net.Conn) (registry.Entry, error) {
	hello := protocol.Hello{
		ConnID:     n.id,
		Nickname:   n.Nickname(),
		ListenPort: n.port,
	}
	payload, err := protocol.EncodeHello(hello)
	if err != nil {
		return registry.Entry{}, err
	}
	if err := protocol.WriteFrame(conn, protocol.TypeConn, payload, n.cfg.WriteTimeout); err != nil {
		return registry.Entry{}, err
	}

	remote, err := n.readHello(conn)
	if err != nil {
		return registry.Entry{}, err
	}

	return n.registerPeer(conn, remote, true)
}

// handshakePassive runs the acceptor leg: the initiator speaks first, so
// read the remote hello, then answer with ours.
func (n *Node) handshakePassive(conn net.Conn) (registry.Entry, error) {
	remote, err := n.readHello(conn)
	if err != nil {
		return registry.Entry{}, err
	}

	hello := protocol.Hello{
		ConnID:     n.id,
		Nickname:   n.Nickname(),
		ListenPort: n.port,
	}
	payload, err := protocol.EncodeHello(hello)
	if err != nil {
		return registry.Entry{}, err
	}
	if err := protocol.WriteFrame(conn, protocol.TypeConn, payload, n.cfg.WriteTimeout); err != nil {
		return registry.Entry{}, err
	}

	return n.registerPeer(conn, remote, false)
}

// readHello reads exactly one frame and requires it to be a valid CONN.
func (n *Node) readHello(conn net.Conn) (protocol.Hello, error) {
	frame, err := protocol.ReadFrame(conn, n.cfg.DialTimeout)
	if err != nil {
		return protocol.Hello{}, err
	}
	if frame.Type != protocol.TypeConn {
		return protocol.Hello{}, errors.NewProtocolError("handshake",
			fmt.Sprintf("expected %s frame, got %s", protocol.TypeConn, frame.Type), nil)
	}
	return protocol.DecodeHello(frame.Payload)
}

// registerPeer validates the remote hello and atomically admits the peer.
// active records which side dialed this socket.
//
// Crossed simultaneous dials between two nodes produce one socket per
// direction, each registered by the opposite side's passive leg first.
// Without a tie-break each node would then reject and close its own active
// socket, killing the link the other node kept. The rule here is
// deterministic and symmetric: both sides keep the socket that was dialed
// by the node with the lower connection id, replacing their registry entry
// if they had admitted the other socket. A duplicate advertised address
// under a different id is never tie-broken; the existing link wins.
func (n *Node) registerPeer(conn net.Conn, hello protocol.Hello, active bool) (registry.Entry, error) {
	if hello.ConnID == n.id {
		return registry.Entry{}, errors.NewValidationError("conn_id", hello.ConnID,
			"connection to self")
	}

	nick := hello.Nickname
	if nick == "" {
		nick = fmt.Sprintf("User_%d", hello.ListenPort)
	}

	peer := &registry.Peer{
		ID:   hello.ConnID,
		Conn: conn,
		Host: peerHost(conn, n.advHost),
		Port: hello.ListenPort,
		Nick: nick,
	}

	if err := n.reg.Insert(peer); err != nil {
		if !isDuplicateID(err) || !n.dialedByLowerID(active, hello.ConnID) {
			return registry.Entry{}, err
		}

		old, replaced, rerr := n.reg.Replace(peer)
		if rerr != nil {
			return registry.Entry{}, rerr
		}
		if replaced {
			// Membership is unchanged; only the stream moved. The old
			// socket's dispatcher exits on the close and its conn-scoped
			// removal misses, leaving this entry in place.
			old.Conn.Close()
			slog.Info("Peer link replaced after crossed dial",
				"peer", shortID(peer.ID), "nick", nick)
			return entryOf(peer), nil
		}
		// The competing entry vanished between the two calls; this is a
		// fresh join after all.
	}

	entry := entryOf(peer)

	slog.Info("Peer connected",
		"peer", shortID(entry.ID), "nick", nick, "addr", entry.Addr())

	line := fmt.Sprintf("%s joined", nick)
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})
	n.emitRoster()

	// Let both sides of the mesh learn about each other.
	n.gossipRoster()

	return entry, nil
}

// dialedByLowerID reports whether this socket is the crossed-dial winner:
// the one whose initiator has the lower connection id. The comparison is
// the same on both nodes, so exactly one socket survives.
func (n *Node) dialedByLowerID(active bool, remoteID string) bool {
	if active {
		return n.id < remoteID
	}
	return remoteID < n.id
}

// isDuplicateID reports whether a registration was rejected because the
// connection id already has a live entry, as opposed to an address clash.
func isDuplicateID(err error) bool {
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	return verr.Field == "conn_id"
}

func entryOf(p *registry.Peer) registry.Entry {
	return registry.Entry{ID: p.ID, Conn: p.Conn, Host: p.Host, Port: p.Port, Nick: p.Nick}
}

// peerHost derives the address a third party should dial for this peer:
// the source host of the TCP connection, with the advertised listen port
// substituted for the ephemeral one. A loopback source collapses to the
// canonical 127.0.0.1 so gossip dedupe works on single-host meshes.
func peerHost(conn net.Conn, fallback string) string {
	remote := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return fallback
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return "127.0.0.1"
	}
	if strings.HasPrefix(host, "pipe") {
		return fallback
	}
	return host
}
