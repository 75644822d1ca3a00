package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

func TestEncodeClient_WireShape(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.ClientMessage
		want string
	}{
		{
			name: "connect carries the bare name",
			msg:  protocol.Connect{Name: "alice"},
			want: `{"Connect":"alice"}`,
		},
		{
			name: "user message uses data for the body",
			msg:  protocol.UserMessage{ID: 2, Name: "alice", Body: "hi"},
			want: `{"UserMessage":{"id":2,"name":"alice","data":"hi"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.EncodeClient(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncodeServer_WireShape(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.ServerMessage
		want string
	}{
		{
			name: "connected is an id name tuple",
			msg:  protocol.Connected{ID: 2, Name: "alice"},
			want: `{"Connected":[2,"alice"]}`,
		},
		{
			name: "new user added",
			msg:  protocol.NewUserAdded{ID: 3, Name: "carol"},
			want: `{"NewUserAdded":[3,"carol"]}`,
		},
		{
			name: "disconnected",
			msg:  protocol.Disconnected{ID: 1, Name: "bob"},
			want: `{"Disconnected":[1,"bob"]}`,
		},
		{
			name: "all users is a list of tuples",
			msg:  protocol.AllUsers{Users: []protocol.User{{ID: 1, Name: "bob"}, {ID: 2, Name: "alice"}}},
			want: `{"AllUsers":[[1,"bob"],[2,"alice"]]}`,
		},
		{
			name: "empty roster encodes as an empty list",
			msg:  protocol.AllUsers{},
			want: `{"AllUsers":[]}`,
		},
		{
			name: "forwarded user message",
			msg:  protocol.UserMessage{ID: 1, Name: "bob", Body: "yo"},
			want: `{"UserMessage":{"id":1,"name":"bob","data":"yo"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.EncodeServer(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestRoundTrip_ClientFamily(t *testing.T) {
	msgs := []protocol.ClientMessage{
		protocol.Connect{Name: "alice"},
		protocol.Connect{Name: ""},
		protocol.UserMessage{ID: 7, Name: "名前", Body: "line one\nline two"},
	}
	for _, m := range msgs {
		frame, err := protocol.EncodeClient(m)
		require.NoError(t, err)

		got, err := protocol.DecodeClient(frame)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestRoundTrip_ServerFamily(t *testing.T) {
	msgs := []protocol.ServerMessage{
		protocol.UserMessage{ID: 2, Name: "alice", Body: "hi"},
		protocol.Connected{ID: 2, Name: "alice"},
		protocol.NewUserAdded{ID: 3, Name: "carol"},
		protocol.Disconnected{ID: 1, Name: "bob"},
		protocol.AllUsers{Users: []protocol.User{{ID: 1, Name: "bob"}, {ID: 2, Name: "alice"}}},
		protocol.AllUsers{Users: []protocol.User{}},
	}
	for _, m := range msgs {
		frame, err := protocol.EncodeServer(m)
		require.NoError(t, err)

		got, err := protocol.DecodeServer(frame)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestDecodeClient_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `hello`, protocol.ErrMalformed},
		{"not an object", `["Connect","alice"]`, protocol.ErrMalformed},
		{"empty envelope", `{}`, protocol.ErrMalformed},
		{"two tags", `{"Connect":"a","UserMessage":{}}`, protocol.ErrMalformed},
		{"wrong payload shape", `{"Connect":42}`, protocol.ErrMalformed},
		{"null name", `{"Connect":null}`, protocol.ErrMalformed},
		{"null user message", `{"UserMessage":null}`, protocol.ErrMalformed},
		{"empty user message", `{"UserMessage":{}}`, protocol.ErrMalformed},
		{"user message without data", `{"UserMessage":{"id":1,"name":"bob"}}`, protocol.ErrMalformed},
		{"user message with null id", `{"UserMessage":{"id":null,"name":"bob","data":"x"}}`, protocol.ErrMalformed},
		{"unknown tag", `{"Shout":"hey"}`, protocol.ErrUnknownVariant},
		{"server family tag", `{"Connected":[1,"bob"]}`, protocol.ErrUnknownVariant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.DecodeClient([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeServer_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"truncated", `{"Connected":[1,`, protocol.ErrMalformed},
		{"tuple too short", `{"Connected":[1]}`, protocol.ErrMalformed},
		{"tuple with wrong types", `{"NewUserAdded":["1",2]}`, protocol.ErrMalformed},
		{"roster is not a list", `{"AllUsers":{"1":"bob"}}`, protocol.ErrMalformed},
		{"null roster", `{"AllUsers":null}`, protocol.ErrMalformed},
		{"null roster entry", `{"AllUsers":[null]}`, protocol.ErrMalformed},
		{"null user", `{"Connected":null}`, protocol.ErrMalformed},
		{"user with null name", `{"Disconnected":[1,null]}`, protocol.ErrMalformed},
		{"user message with only id", `{"UserMessage":{"id":1}}`, protocol.ErrMalformed},
		{"client family tag", `{"Connect":"alice"}`, protocol.ErrUnknownVariant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.DecodeServer([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncode_NilMessage(t *testing.T) {
	_, err := protocol.EncodeClient(nil)
	assert.ErrorIs(t, err, protocol.ErrUnknownVariant)

	_, err = protocol.EncodeServer(nil)
	assert.ErrorIs(t, err, protocol.ErrUnknownVariant)
}
