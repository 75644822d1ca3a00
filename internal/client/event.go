package client

import "github.com/omochice/websocket-chatroom/pkg/protocol"

// Event is something the client reports to its user. It is one of
// ConnectedEvent, DisconnectedEvent or MessageReceivedEvent.
type Event interface {
	event()
}

// ConnectedEvent reports a completed handshake. Users is the roster sent
// by the server and includes the client itself.
type ConnectedEvent struct {
	Session *Session
	ID      uint32
	Name    string
	Users   []protocol.User
}

// DisconnectedEvent reports that a session ended or a connection attempt
// failed. Err is nil when the session was closed locally.
type DisconnectedEvent struct {
	Err error
}

// MessageReceivedEvent carries a frame received during a session.
type MessageReceivedEvent struct {
	Message protocol.ServerMessage
}

func (ConnectedEvent) event()       {}
func (DisconnectedEvent) event()    {}
func (MessageReceivedEvent) event() {}
