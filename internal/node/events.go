package node

// Event is the closed set of notifications the engine pushes to its
// front-end. The front-end drains the channel on its own scheduling turn,
// so engine goroutines never block on UI work.
type Event interface {
	event()
}

// MessageEvent is a rendered chat line: peer text, join/leave notices,
// transfer notices.
type MessageEvent struct {
	Text string
}

// RosterEntry is one row of the peer roster as shown to the user.
type RosterEntry struct {
	Address string
	Nick    string
}

// RosterEvent carries the current roster after any membership or nickname
// change, or a roster received via gossip.
type RosterEvent struct {
	Peers []RosterEntry
}

// FileRequestEvent reports an inbound file offer. The front-end must answer
// with RespondFile(PeerID, accept).
type FileRequestEvent struct {
	PeerID string
	Name   string
	Size   int64
}

// ClearHistoryEvent tells the front-end to wipe its message view.
type ClearHistoryEvent struct{}

// DebugEvent carries diagnostics worth surfacing but not worth a chat line.
type DebugEvent struct {
	Text string
}

func (MessageEvent) event()      {}
func (RosterEvent) event()       {}
func (FileRequestEvent) event()  {}
func (ClearHistoryEvent) event() {}
func (DebugEvent) event()        {}
