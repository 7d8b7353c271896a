package node

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"meshchat/internal/errors"
	"meshchat/internal/filesystem"
	"meshchat/internal/progress"
	"meshchat/internal/protocol"
)

// inboundTransfer tracks one file being received from a peer. A peer has
// at most one; a new offer from the same peer supersedes the old entry.
type inboundTransfer struct {
	meta     protocol.FileMeta
	path     string
	file     *os.File // nil until the offer is accepted
	accepted bool
	stats    *progress.Stats
}

// outboundOffer tracks one pending file offer toward one peer. The table
// is keyed by peer id so a broadcast offer can be accepted by several
// peers independently, each getting its own stream.
type outboundOffer struct {
	info *filesystem.FileInfo
}

// SendFile offers a local file to every connected peer. Streaming does not
// start until a peer answers with an accept; each accepting peer gets its
// own stream.
func (n *Node) SendFile(path string) error {
	if !n.running.Load() {
		return errors.NewValidationError("node", path, "node is not running")
	}

	info, err := filesystem.GetFileInfo(path)
	if err != nil {
		return err
	}
	peers := n.reg.Snapshot()
	if len(peers) == 0 {
		return errors.NewValidationError("peers", path, "no connected peers")
	}

	payload, err := protocol.EncodeFileMeta(protocol.FileMeta{Name: info.Name, Size: info.Size})
	if err != nil {
		return err
	}

	n.transfersMu.Lock()
	for _, p := range peers {
		n.offers[p.ID] = &outboundOffer{info: info}
	}
	n.transfersMu.Unlock()

	n.broadcastFrame(protocol.TypeFileMeta, payload)

	line := fmt.Sprintf("%s offered file %s (%d bytes)", n.Nickname(), info.Name, info.Size)
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})
	return nil
}

// RespondFile answers a pending inbound offer from the given peer. On
// accept the reserved output file is opened and the peer told to stream;
// a zero-size file is complete the moment it is accepted. On decline the
// pending entry is dropped without touching the disk.
func (n *Node) RespondFile(peerID string, accept bool) error {
	entry, ok := n.reg.Lookup(peerID)
	if !ok {
		return errors.NewValidationError("peer", peerID, "not connected")
	}

	n.transfersMu.Lock()
	t, okT := n.inbound[peerID]
	if !okT || t.accepted {
		n.transfersMu.Unlock()
		return errors.NewValidationError("transfer", peerID, "no pending file offer")
	}
	if !accept {
		delete(n.inbound, peerID)
		n.transfersMu.Unlock()

		if err := protocol.WriteFrame(entry.Conn, protocol.TypeFileDecline, nil, n.cfg.WriteTimeout); err != nil {
			n.removePeer(peerID, entry.Conn, "decline write failed")
			return err
		}
		n.emit(MessageEvent{Text: fmt.Sprintf("declined file %s from %s", t.meta.Name, entry.Nick)})
		return nil
	}

	path, f, err := filesystem.ReservePath(n.cfg.DownloadsDir, t.meta.Name)
	if err != nil {
		delete(n.inbound, peerID)
		n.transfersMu.Unlock()
		return err
	}
	t.path = path
	t.file = f
	t.accepted = true
	t.stats = progress.NewStats(t.meta.Name, t.meta.Size)

	if t.meta.Size == 0 {
		// Nothing will be streamed; the reserved empty file is the result.
		delete(n.inbound, peerID)
		n.transfersMu.Unlock()
		f.Close()

		if err := protocol.WriteFrame(entry.Conn, protocol.TypeFileAccept, nil, n.cfg.WriteTimeout); err != nil {
			n.removePeer(peerID, entry.Conn, "accept write failed")
			return err
		}
		n.finishReceive(t, entry.Nick)
		return nil
	}
	n.transfersMu.Unlock()

	if err := protocol.WriteFrame(entry.Conn, protocol.TypeFileAccept, nil, n.cfg.WriteTimeout); err != nil {
		n.abortReceive(peerID)
		n.removePeer(peerID, entry.Conn, "accept write failed")
		return err
	}
	return nil
}

// handleFileMeta records an inbound offer and surfaces it to the user. A
// malformed announcement costs the connection; a filesystem problem does
// not, since the peer did nothing wrong.
func (n *Node) handleFileMeta(peerID string, conn net.Conn, payload []byte) {
	meta, err := protocol.DecodeFileMeta(payload)
	if err != nil {
		slog.Warn("Discarding malformed file offer", "peer", shortID(peerID), "error", err)
		n.removePeer(peerID, conn, "protocol violation")
		return
	}

	n.transfersMu.Lock()
	if old, exists := n.inbound[peerID]; exists && old.accepted && old.file != nil {
		// A newer offer abandons the half-received predecessor.
		old.file.Close()
		os.Remove(old.path)
	}
	n.inbound[peerID] = &inboundTransfer{meta: meta}
	n.transfersMu.Unlock()

	nick := n.peerNick(peerID)
	line := fmt.Sprintf("%s offers file %s (%d bytes)", nick, meta.Name, meta.Size)
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})
	n.emit(FileRequestEvent{PeerID: peerID, Name: meta.Name, Size: meta.Size})
}

// handleFileAccept consumes the pending offer toward this peer and starts
// streaming on a dedicated goroutine. An accept with no offer on the books
// is ignored; the offer may have been superseded or the peer reconnected.
func (n *Node) handleFileAccept(peerID string, conn net.Conn) {
	n.transfersMu.Lock()
	offer, ok := n.offers[peerID]
	if ok {
		delete(n.offers, peerID)
	}
	n.transfersMu.Unlock()
	if !ok {
		slog.Debug("Ignoring accept with no pending offer", "peer", shortID(peerID))
		return
	}

	nick := n.peerNick(peerID)
	line := fmt.Sprintf("%s accepted file %s", nick, offer.info.Name)
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.streamFile(peerID, conn, offer.info)
	}()
}

// handleFileDecline consumes the pending offer toward this peer.
func (n *Node) handleFileDecline(peerID string) {
	n.transfersMu.Lock()
	offer, ok := n.offers[peerID]
	if ok {
		delete(n.offers, peerID)
	}
	n.transfersMu.Unlock()
	if !ok {
		return
	}

	line := fmt.Sprintf("%s declined file %s", n.peerNick(peerID), offer.info.Name)
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})
}

// handleFileData appends one chunk to the accepted transfer from this
// peer. Chunks with no accepted transfer on the books are dropped
// silently; they are the tail of an abandoned or declined stream. A local
// write failure aborts the transfer but keeps the connection.
func (n *Node) handleFileData(peerID string, chunk []byte) {
	n.transfersMu.Lock()
	t, ok := n.inbound[peerID]
	n.transfersMu.Unlock()
	if !ok || !t.accepted {
		return
	}

	// The disk write happens outside transfersMu; chunks arrive serially
	// from this peer's dispatcher, so t only advances here. If the
	// transfer was torn down concurrently the closed file fails the
	// write and we land in the abort path.
	if _, err := t.file.Write(chunk); err != nil {
		n.forgetInbound(peerID, t)
		t.file.Close()
		os.Remove(t.path)
		slog.Error("File write failed, aborting transfer",
			"peer", shortID(peerID), "path", t.path, "error", err)
		n.emit(MessageEvent{Text: fmt.Sprintf("receive of %s failed: disk error", t.meta.Name)})
		return
	}
	t.stats.Add(int64(len(chunk)))

	if t.stats.Complete() {
		n.forgetInbound(peerID, t)
		t.file.Close()
		n.finishReceive(t, n.peerNick(peerID))
	}
}

// forgetInbound drops the peer's inbound entry only if it still refers to
// the same transfer; a superseding offer may already have replaced it.
func (n *Node) forgetInbound(peerID string, t *inboundTransfer) {
	n.transfersMu.Lock()
	if cur, ok := n.inbound[peerID]; ok && cur == t {
		delete(n.inbound, peerID)
	}
	n.transfersMu.Unlock()
}

// streamFile pushes the file to one accepting peer in fixed-size FDAT
// chunks. A write failure means the peer is gone and removes it; a local
// read failure only abandons this stream.
func (n *Node) streamFile(peerID string, conn net.Conn, info *filesystem.FileInfo) {
	f, err := os.Open(info.Path)
	if err != nil {
		slog.Error("Failed to open file for streaming", "path", info.Path, "error", err)
		n.emit(MessageEvent{Text: fmt.Sprintf("send of %s failed: %v", info.Name, err)})
		return
	}
	defer f.Close()

	stats := progress.NewStats(info.Name, info.Size)
	buf := make([]byte, n.cfg.ChunkSize)
	for {
		read, err := f.Read(buf)
		if read > 0 {
			if werr := protocol.WriteFrame(conn, protocol.TypeFileData, buf[:read], n.cfg.WriteTimeout); werr != nil {
				slog.Warn("File stream write failed",
					"peer", shortID(peerID), "file", info.Name, "error", werr)
				n.removePeer(peerID, conn, "file stream write failed")
				return
			}
			stats.Add(int64(read))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("File read failed mid-stream", "path", info.Path, "error", err)
			n.emit(MessageEvent{Text: fmt.Sprintf("send of %s failed: %v", info.Name, err)})
			return
		}
	}

	slog.Info("File sent", "peer", shortID(peerID), "summary", stats.Summary())
	n.emit(MessageEvent{Text: fmt.Sprintf("sent %s to %s", info.Name, n.peerNick(peerID))})
}

// finishReceive reports a completed inbound transfer.
func (n *Node) finishReceive(t *inboundTransfer, fromNick string) {
	slog.Info("File received", "path", t.path, "summary", t.stats.Summary())
	line := fmt.Sprintf("received %s from %s, saved to %s", t.meta.Name, fromNick, t.path)
	n.appendHistory(line)
	n.emit(MessageEvent{Text: line})
}

// abortReceive discards an in-progress inbound transfer and its partial
// file, if any.
func (n *Node) abortReceive(peerID string) {
	n.transfersMu.Lock()
	t, ok := n.inbound[peerID]
	if ok {
		delete(n.inbound, peerID)
	}
	n.transfersMu.Unlock()
	if !ok {
		return
	}
	if t.file != nil {
		t.file.Close()
		os.Remove(t.path)
	}
}

// dropTransferState clears all transfer bookkeeping for a departed peer,
// removing any partially received file.
func (n *Node) dropTransferState(peerID string) {
	n.transfersMu.Lock()
	t, hadInbound := n.inbound[peerID]
	delete(n.inbound, peerID)
	delete(n.offers, peerID)
	n.transfersMu.Unlock()

	if hadInbound && t.file != nil {
		t.file.Close()
		os.Remove(t.path)
		slog.Info("Discarded partial file after peer loss", "path", t.path)
	}
}
