package client

import (
	"errors"
	"sync"

	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

var (
	// ErrQueueFull is returned by Send when the outbound queue is full.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrSessionClosed is returned by Send once the session has ended.
	ErrSessionClosed = errors.New("session closed")
)

// Session is the handle of one live connection. Its methods never block
// and are safe for concurrent use.
type Session struct {
	id   uint32
	name string

	mu     sync.RWMutex
	closed bool
	queue  chan protocol.ClientMessage
}

func newSession(id uint32, name string, queueSize int) *Session {
	return &Session{
		id:    id,
		name:  name,
		queue: make(chan protocol.ClientMessage, max(queueSize, 1)),
	}
}

// ID returns the id the server assigned.
func (s *Session) ID() uint32 { return s.id }

// Name returns the name the server confirmed.
func (s *Session) Name() string { return s.name }

// Send queues msg for transmission. It fails with ErrQueueFull or
// ErrSessionClosed instead of waiting; the caller decides what to do.
func (s *Session) Send(msg protocol.ClientMessage) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit sends body as a chat message from this session's user.
func (s *Session) Submit(body string) error {
	return s.Send(protocol.UserMessage{ID: s.id, Name: s.name, Body: body})
}

// Close ends the session. The client reports a DisconnectedEvent with a
// nil error and dials again.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
