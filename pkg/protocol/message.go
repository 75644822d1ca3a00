// Package protocol defines the chat wire messages and their JSON framing.
//
// Every frame is a JSON object with exactly one key naming the variant:
//
//	{"Connect":"alice"}
//	{"UserMessage":{"id":2,"name":"alice","data":"hi"}}
//	{"Connected":[2,"alice"]}
//	{"AllUsers":[[1,"bob"],[2,"alice"]]}
//
// The client→server and server→client families are decoded by separate
// functions so a call site always binds to the family it expects.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a frame is not a well-formed envelope
	// or its payload does not fit the variant.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownVariant is returned when the envelope tag names no variant
	// of the expected family.
	ErrUnknownVariant = errors.New("unknown message variant")
)

// Variant tags as they appear on the wire.
const (
	KindConnect      = "Connect"
	KindUserMessage  = "UserMessage"
	KindConnected    = "Connected"
	KindNewUserAdded = "NewUserAdded"
	KindDisconnected = "Disconnected"
	KindAllUsers     = "AllUsers"
)

// MessageData is a chat line together with its author.
type MessageData struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
	Body string `json:"data"`
}

// UnmarshalJSON implements json.Unmarshaler. All three keys are required.
func (m *MessageData) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   *uint32 `json:"id"`
		Name *string `json:"name"`
		Body *string `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == nil || raw.Name == nil || raw.Body == nil {
		return errors.New("user message needs id, name and data")
	}
	*m = MessageData{ID: *raw.ID, Name: *raw.Name, Body: *raw.Body}
	return nil
}

// User is an (id, name) pair. It is encoded as a two element array.
type User struct {
	ID   uint32
	Name string
}

// MarshalJSON implements json.Marshaler.
func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{u.ID, u.Name})
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *User) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("user tuple has %d elements, want 2", len(pair))
	}
	if isNull(pair[0]) || isNull(pair[1]) {
		return errors.New("user tuple has a null element")
	}
	if err := json.Unmarshal(pair[0], &u.ID); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &u.Name); err != nil {
		return fmt.Errorf("user name: %w", err)
	}
	return nil
}

// ClientMessage is a frame sent from a client to the server.
type ClientMessage interface {
	Kind() string
	clientMessage()
}

// ServerMessage is a frame sent from the server to a client.
type ServerMessage interface {
	Kind() string
	serverMessage()
}

// Connect must be the first frame of every session.
type Connect struct {
	Name string
}

// UserMessage carries a chat line. It belongs to both families: clients
// send it and the server forwards it unchanged.
type UserMessage MessageData

// Connected acknowledges Connect and tells the client its assigned id.
type Connected User

// NewUserAdded announces a peer that just joined.
type NewUserAdded User

// Disconnected announces a peer that just left.
type Disconnected User

// AllUsers is the roster sent right after Connected.
type AllUsers struct {
	Users []User
}

func (Connect) Kind() string      { return KindConnect }
func (UserMessage) Kind() string  { return KindUserMessage }
func (Connected) Kind() string    { return KindConnected }
func (NewUserAdded) Kind() string { return KindNewUserAdded }
func (Disconnected) Kind() string { return KindDisconnected }
func (AllUsers) Kind() string     { return KindAllUsers }

func (Connect) clientMessage()     {}
func (UserMessage) clientMessage() {}

func (UserMessage) serverMessage()  {}
func (Connected) serverMessage()    {}
func (NewUserAdded) serverMessage() {}
func (Disconnected) serverMessage() {}
func (AllUsers) serverMessage()     {}

// EncodeClient encodes a client→server message into a text frame.
func EncodeClient(m ClientMessage) ([]byte, error) {
	switch m := m.(type) {
	case Connect:
		return envelope(KindConnect, m.Name)
	case UserMessage:
		return envelope(KindUserMessage, MessageData(m))
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownVariant)
	}
}

// EncodeServer encodes a server→client message into a text frame.
func EncodeServer(m ServerMessage) ([]byte, error) {
	switch m := m.(type) {
	case UserMessage:
		return envelope(KindUserMessage, MessageData(m))
	case Connected:
		return envelope(KindConnected, User(m))
	case NewUserAdded:
		return envelope(KindNewUserAdded, User(m))
	case Disconnected:
		return envelope(KindDisconnected, User(m))
	case AllUsers:
		users := m.Users
		if users == nil {
			users = []User{}
		}
		return envelope(KindAllUsers, users)
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownVariant)
	}
}

// DecodeClient decodes a text frame sent by a client.
func DecodeClient(frame []byte) (ClientMessage, error) {
	kind, payload, err := open(frame)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindConnect:
		var name string
		if err := unmarshalPayload(kind, payload, &name); err != nil {
			return nil, err
		}
		return Connect{Name: name}, nil
	case KindUserMessage:
		var data MessageData
		if err := unmarshalPayload(kind, payload, &data); err != nil {
			return nil, err
		}
		return UserMessage(data), nil
	default:
		return nil, fmt.Errorf("client frame %q: %w", kind, ErrUnknownVariant)
	}
}

// DecodeServer decodes a text frame sent by the server.
func DecodeServer(frame []byte) (ServerMessage, error) {
	kind, payload, err := open(frame)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindUserMessage:
		var data MessageData
		if err := unmarshalPayload(kind, payload, &data); err != nil {
			return nil, err
		}
		return UserMessage(data), nil
	case KindConnected, KindNewUserAdded, KindDisconnected:
		var u User
		if err := unmarshalPayload(kind, payload, &u); err != nil {
			return nil, err
		}
		switch kind {
		case KindConnected:
			return Connected(u), nil
		case KindNewUserAdded:
			return NewUserAdded(u), nil
		default:
			return Disconnected(u), nil
		}
	case KindAllUsers:
		var users []User
		if err := unmarshalPayload(kind, payload, &users); err != nil {
			return nil, err
		}
		return AllUsers{Users: users}, nil
	default:
		return nil, fmt.Errorf("server frame %q: %w", kind, ErrUnknownVariant)
	}
}

func envelope(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(map[string]any{kind: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return data, nil
}

// open splits an envelope into its tag and raw payload.
func open(frame []byte) (string, json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env) != 1 {
		return "", nil, fmt.Errorf("%w: envelope has %d keys, want 1", ErrMalformed, len(env))
	}
	for kind, payload := range env {
		return kind, payload, nil
	}
	panic("unreachable")
}

// unmarshalPayload decodes payload into v. A null payload never fits a
// variant.
func unmarshalPayload(kind string, payload json.RawMessage, v any) error {
	if isNull(payload) {
		return fmt.Errorf("%w: %s payload is null", ErrMalformed, kind)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, kind, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
