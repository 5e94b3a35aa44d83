package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pckrishnadas88/k-shell-go/internal/protocol"
)

// ErrPeerClosed is returned when writing to a peer whose connection has been
// closed by the registry.
var ErrPeerClosed = errors.New("peer connection closed")

// Peer is one connected agent. The worker that created it is the only reader
// of its connection; the operator console is the only writer.
type Peer struct {
	ID          int64
	Addr        string
	Tag         string // random connection tag shown by `list`
	ConnectedAt time.Time

	conn      net.Conn
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewPeer wraps conn as a peer with the given id.
func NewPeer(id int64, conn net.Conn, addr string) *Peer {
	return &Peer{
		ID:          id,
		Addr:        addr,
		Tag:         uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Read reads the next chunk sent by the agent.
func (p *Peer) Read(b []byte) (int, error) {
	return p.conn.Read(b)
}

// SendLine writes text plus a trailing newline as a single write.
func (p *Peer) SendLine(text string) error {
	if p.closed.Load() {
		return ErrPeerClosed
	}
	if _, err := p.conn.Write(protocol.FormatCommand(text)); err != nil {
		if p.closed.Load() {
			return ErrPeerClosed
		}
		return fmt.Errorf("write to client %d: %w", p.ID, err)
	}
	return nil
}

// Close closes the connection. Safe to call more than once.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

// Closed reports whether Close has been called.
func (p *Peer) Closed() bool {
	return p.closed.Load()
}

// Info returns a copy of the peer's descriptive fields.
func (p *Peer) Info() PeerInfo {
	return PeerInfo{ID: p.ID, Addr: p.Addr, Tag: p.Tag, ConnectedAt: p.ConnectedAt}
}

// PeerInfo is a snapshot of a registered peer, safe to use without locks.
type PeerInfo struct {
	ID          int64
	Addr        string
	Tag         string
	ConnectedAt time.Time
}

// Sequence hands out peer ids. Ids start at 1, only ever increase and are
// never reused within the process.
type Sequence struct {
	last atomic.Int64
}

// Next returns the next id.
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}
