package node

import (
	stderrors "errors"
	"io"
	"log/slog"
	"net"

	"meshchat/internal/errors"
	"meshchat/internal/protocol"
)

// dispatchLoop is the single reader for one peer connection. It runs until
// the connection fails, the read deadline expires with no traffic, or the
// peer violates the protocol; every exit funnels through removePeer.
func (n *Node) dispatchLoop(peerID string, conn net.Conn) {
	reason := "connection closed"
	defer func() { n.removePeer(peerID, conn, reason) }()

	for n.running.Load() {
		frame, err := protocol.ReadFrame(conn, n.cfg.ReadTimeout)
		if err != nil {
			switch {
			case stderrors.Is(err, io.EOF):
				reason = "peer closed connection"
			case stderrors.Is(err, errors.ErrTimeout):
				reason = "read timeout"
			case stderrors.Is(err, errors.ErrNetwork):
				reason = "connection lost"
			case stderrors.Is(err, errors.ErrProtocol):
				reason = "protocol violation"
				slog.Warn("Dropping peer after protocol violation",
					"peer", shortID(peerID), "error", err)
			default:
				reason = "read failed"
			}
			return
		}

		if frame.Type.RequiresPayload() && len(frame.Payload) == 0 {
			reason = "protocol violation"
			slog.Warn("Dropping peer after empty payload",
				"peer", shortID(peerID), "type", string(frame.Type))
			return
		}

		n.handleFrame(peerID, conn, frame)
	}
	reason = "shutdown"
}

// handleFrame routes one frame. Local failures inside a handler (disk,
// event delivery) are logged and the connection survives; only malformed
// payloads cost the peer its connection.
func (n *Node) handleFrame(peerID string, conn net.Conn, frame protocol.Frame) {
	switch frame.Type {
	case protocol.TypeText:
		n.handleText(frame.Payload)
	case protocol.TypeNick:
		n.handleNick(peerID, frame.Payload)
	case protocol.TypePeerList:
		n.handlePeerList(peerID, conn, frame.Payload)
	case protocol.TypeFileMeta:
		n.handleFileMeta(peerID, conn, frame.Payload)
	case protocol.TypeFileAccept:
		n.handleFileAccept(peerID, conn)
	case protocol.TypeFileDecline:
		n.handleFileDecline(peerID)
	case protocol.TypeFileData:
		n.handleFileData(peerID, frame.Payload)
	case protocol.TypeClearHistory:
		n.clearHistoryLocal()
	case protocol.TypeHeartbeat:
		// Liveness only; reading it already reset the idle deadline.
	case protocol.TypeConn:
		// Stray hello after the handshake; ignore.
		slog.Debug("Ignoring CONN frame mid-session", "peer", shortID(peerID))
	}
}

// handleText records and surfaces a chat line exactly as received; the
// sender prefixes its own nickname before broadcasting.
func (n *Node) handleText(payload []byte) {
	line := string(payload)
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})
}

// handleNick updates the peer's registry entry and republishes the roster
// so the rename propagates through gossip.
func (n *Node) handleNick(peerID string, payload []byte) {
	old, ok := n.reg.SetNick(peerID, string(payload))
	if !ok {
		return
	}

	line := old + " is now known as " + string(payload)
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})
	n.emitRoster()
	n.gossipRoster()
}
