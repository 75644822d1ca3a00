package chat

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

var (
	// ErrDuplicatePeer is returned when an identity is registered twice.
	ErrDuplicatePeer = errors.New("peer already registered")
	// ErrPeerNotFound is returned when removing an identity that is not
	// registered.
	ErrPeerNotFound = errors.New("peer not found")
)

// Outbound is the send half of a peer's outbound queue. Push must not block.
type Outbound interface {
	Push(frame []byte) error
}

// Peer is a registered connection.
type Peer struct {
	Identity string
	Addr     string
	Out      Outbound
	ID       uint32
	Name     string
}

// User returns the peer's (id, name) pair.
func (p Peer) User() protocol.User {
	return protocol.User{ID: p.ID, Name: p.Name}
}

// Registry tracks the peers of every connection. All transports share a
// single Registry. The lock is held only for in-memory work: frames are
// handed to each peer's Outbound, never written to a socket here.
type Registry struct {
	mu    sync.Mutex
	peers map[string]Peer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]Peer),
	}
}

// Register adds a peer. welcome, if not nil, runs under the same lock hold
// with the roster including the new peer, so whatever it queues reaches
// the peer before any broadcast does.
func (r *Registry) Register(p Peer, welcome func(roster []protocol.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Identity == "" {
		return errors.New("register: empty identity")
	}
	if _, ok := r.peers[p.Identity]; ok {
		return fmt.Errorf("register %s: %w", p.Identity, ErrDuplicatePeer)
	}
	r.peers[p.Identity] = p
	if welcome != nil {
		welcome(r.rosterLocked())
	}
	return nil
}

// Remove deletes and returns the peer registered under identity.
func (r *Registry) Remove(identity string) (Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[identity]
	if !ok {
		return Peer{}, fmt.Errorf("remove %s: %w", identity, ErrPeerNotFound)
	}
	delete(r.peers, identity)
	return p, nil
}

// BroadcastExcept queues frame to every peer except the one registered
// under identity. A peer whose outbound rejects the frame is skipped; it
// finds out through its own connection. It returns the number of peers the
// frame was queued to.
func (r *Registry) BroadcastExcept(identity string, frame []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, p := range r.peers {
		if id == identity {
			continue
		}
		if err := p.Out.Push(frame); err != nil {
			continue
		}
		n++
	}
	return n
}

// BroadcastAll queues frame to every registered peer.
func (r *Registry) BroadcastAll(frame []byte) int {
	return r.BroadcastExcept("", frame)
}

// Snapshot returns the (id, name) pairs of all peers ordered by id.
func (r *Registry) Snapshot() []protocol.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked()
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Registry) rosterLocked() []protocol.User {
	users := make([]protocol.User, 0, len(r.peers))
	for _, p := range r.peers {
		users = append(users, p.User())
	}
	slices.SortFunc(users, func(a, b protocol.User) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return users
}
