package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

// ErrHandshake matches every *HandshakeError.
var ErrHandshake = errors.New("handshake failed")

// HandshakeError reports a connection that was established but did not
// complete Connect, Connected, AllUsers in that order.
type HandshakeError struct {
	// Step is the frame being sent or awaited.
	Step string
	// Got is the variant received instead, if any.
	Got string
	Err error
}

func (e *HandshakeError) Error() string {
	switch {
	case e.Got != "":
		return fmt.Sprintf("handshake: expected %s, got %s", e.Step, e.Got)
	case e.Err != nil:
		return fmt.Sprintf("handshake: %s: %v", e.Step, e.Err)
	default:
		return "handshake: " + e.Step
	}
}

func (e *HandshakeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHandshake}
	}
	return []error{ErrHandshake, e.Err}
}

// handshake sends Connect(name) and waits for Connected then AllUsers.
func handshake(ctx context.Context, conn Conn, name string) (protocol.Connected, []protocol.User, error) {
	data, err := protocol.EncodeClient(protocol.Connect{Name: name})
	if err != nil {
		return protocol.Connected{}, nil, &HandshakeError{Step: protocol.KindConnect, Err: err}
	}
	if err := conn.Write(ctx, data); err != nil {
		return protocol.Connected{}, nil, &HandshakeError{Step: protocol.KindConnect, Err: err}
	}

	msg, err := readServer(ctx, conn, protocol.KindConnected)
	if err != nil {
		return protocol.Connected{}, nil, err
	}
	connected, ok := msg.(protocol.Connected)
	if !ok {
		return protocol.Connected{}, nil, &HandshakeError{Step: protocol.KindConnected, Got: msg.Kind()}
	}

	msg, err = readServer(ctx, conn, protocol.KindAllUsers)
	if err != nil {
		return protocol.Connected{}, nil, err
	}
	all, ok := msg.(protocol.AllUsers)
	if !ok {
		return protocol.Connected{}, nil, &HandshakeError{Step: protocol.KindAllUsers, Got: msg.Kind()}
	}
	return connected, all.Users, nil
}

func readServer(ctx context.Context, conn Conn, step string) (protocol.ServerMessage, error) {
	data, err := conn.Read(ctx)
	if err != nil {
		return nil, &HandshakeError{Step: step, Err: err}
	}
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		return nil, &HandshakeError{Step: step, Err: err}
	}
	return msg, nil
}
