// Package registry tracks the peers that are currently connected.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	// ErrRegistryFull is returned by Add when the registry is at capacity.
	ErrRegistryFull = errors.New("maximum number of clients reached")
	// ErrDuplicatePeer is returned by Add when the id is already registered.
	ErrDuplicatePeer = errors.New("peer id already registered")
)

// DefaultCapacity is the number of peers a registry holds when no capacity is given.
const DefaultCapacity = 100

// Registry is the shared table of connected peers. Every method takes the
// same lock, so no caller ever sees a half-finished add or remove.
type Registry struct {
	mu       sync.RWMutex
	peers    map[int64]*Peer
	capacity int
	logger   *slog.Logger
}

// New creates a registry bounded to capacity peers.
func New(capacity int, logger *slog.Logger) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		peers:    make(map[int64]*Peer, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Add registers p. When the registry is full the peer's connection is closed
// and ErrRegistryFull is returned; existing peers are not touched.
func (r *Registry) Add(p *Peer) error {
	r.mu.Lock()
	if _, exists := r.peers[p.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("add client %d: %w", p.ID, ErrDuplicatePeer)
	}
	if len(r.peers) >= r.capacity {
		r.mu.Unlock()
		r.logger.Warn("registry full, dropping client",
			"client_id", p.ID,
			"addr", p.Addr,
			"capacity", r.capacity)
		p.Close()
		return fmt.Errorf("add client %d: %w", p.ID, ErrRegistryFull)
	}
	r.peers[p.ID] = p
	size := len(r.peers)
	r.mu.Unlock()

	r.logger.Debug("client registered", "client_id", p.ID, "addr", p.Addr, "clients", size)
	return nil
}

// Remove unregisters id and closes its connection. Removing an id that is not
// registered is a no-op and returns false.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	p, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	size := len(r.peers)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := p.Close(); err != nil {
		r.logger.Debug("close client connection", "client_id", id, "error", err)
	}
	r.logger.Debug("client removed", "client_id", id, "clients", size)
	return true
}

// Find returns the peer registered under id. The handle stays usable after
// the lock is released; once the peer is removed, writes fail with
// ErrPeerClosed.
func (r *Registry) Find(id int64) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// List returns a snapshot of all peers ordered by id.
func (r *Registry) List() []PeerInfo {
	r.mu.RLock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Cap returns the registry capacity.
func (r *Registry) Cap() int {
	return r.capacity
}

// CloseAll closes every registered connection without unregistering it, which
// unblocks the owning workers; they remove their own peers on the way out.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		p.Close()
	}
	return len(peers)
}
