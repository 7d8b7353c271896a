// Package registry holds the shared peer table: the single source of truth
// for overlay membership. All three views (id map, address index, nickname
// table) mutate together under one lock so no caller ever observes a peer
// present in one and missing from another.
package registry

import (
	"net"
	"sort"
	"strconv"
	"sync"

	"meshchat/internal/errors"
)

// Peer is one live overlay connection. Host and Port are the peer's
// advertised listen address, never the ephemeral source port of an inbound
// TCP connection. Nick is mutable and must be read through Snapshot or
// Lookup so the registry lock covers it.
type Peer struct {
	ID   string
	Conn net.Conn
	Host string
	Port int
	Nick string
}

// Entry is an immutable copy of a peer's registry state, safe to use
// without holding any lock. Conn is the shared stream handle.
type Entry struct {
	ID   string
	Conn net.Conn
	Host string
	Port int
	Nick string
}

// Addr returns the peer's advertised dial address.
func (e Entry) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Registry is the lock-protected membership table.
type Registry struct {
	mu     sync.Mutex
	peers  map[string]*Peer
	byAddr map[string]string // "host:port" → connection id
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		peers:  make(map[string]*Peer),
		byAddr: make(map[string]string),
	}
}

// Insert registers a peer in all views atomically. A duplicate connection
// id or advertised address is rejected with a validation error: the
// existing link wins and the caller discards the new socket.
func (r *Registry) Insert(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[p.ID]; exists {
		return errors.NewValidationError("conn_id", p.ID, "peer already registered")
	}
	addr := addrKey(p.Host, p.Port)
	if _, exists := r.byAddr[addr]; exists {
		return errors.NewValidationError("peer_addr", addr, "address already registered")
	}

	r.peers[p.ID] = p
	r.byAddr[addr] = p.ID
	return nil
}

// Remove pops a peer from all views atomically. It is idempotent: removing
// an absent id reports ok=false and has no effect. The returned entry lets
// the caller close the stream and broadcast notices outside the lock.
func (r *Registry) Remove(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[id]
	if !exists {
		return Entry{}, false
	}

	delete(r.peers, id)
	delete(r.byAddr, addrKey(p.Host, p.Port))
	return entryOf(p), true
}

// RemoveConn pops a peer only while it is still linked through conn.
// Dispatcher loops use this so a loop tearing down a superseded socket
// cannot take the replacement entry with it.
func (r *Registry) RemoveConn(id string, conn net.Conn) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[id]
	if !exists || p.Conn != conn {
		return Entry{}, false
	}

	delete(r.peers, id)
	delete(r.byAddr, addrKey(p.Host, p.Port))
	return entryOf(p), true
}

// Replace atomically swaps the live entry for p.ID to the new record,
// returning the superseded entry so the caller can close its stream. With
// no live entry it degrades to a plain insert and reports replaced=false.
// An address claimed by a different id is still rejected.
func (r *Registry) Replace(p *Peer) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := addrKey(p.Host, p.Port)
	if otherID, exists := r.byAddr[addr]; exists && otherID != p.ID {
		return Entry{}, false, errors.NewValidationError("peer_addr", addr, "address already registered")
	}

	var old Entry
	replaced := false
	if existing, exists := r.peers[p.ID]; exists {
		delete(r.byAddr, addrKey(existing.Host, existing.Port))
		old = entryOf(existing)
		replaced = true
	}

	r.peers[p.ID] = p
	r.byAddr[addr] = p.ID
	return old, replaced, nil
}

// Lookup returns a copy of the peer's current state.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[id]
	if !exists {
		return Entry{}, false
	}
	return entryOf(p), true
}

// Connected reports whether an advertised (host, port) already has a live
// entry. The gossip builder consults this before dialing.
func (r *Registry) Connected(host string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.byAddr[addrKey(host, port)]
	return exists
}

// SetNick updates a peer's nickname and returns the previous one.
// Returns false if the id is gone.
func (r *Registry) SetNick(id, nick string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[id]
	if !exists {
		return "", false
	}
	old := p.Nick
	p.Nick = nick
	return old, true
}

// Snapshot returns a consistent copy of every registered peer, ordered by
// connection id so roster output is stable.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.peers))
	for _, p := range r.peers {
		entries = append(entries, entryOf(p))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Len returns the number of live peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func entryOf(p *Peer) Entry {
	return Entry{ID: p.ID, Conn: p.Conn, Host: p.Host, Port: p.Port, Nick: p.Nick}
}

func addrKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
