package ws_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/omochice/websocket-chatroom/internal/chat"
	"github.com/omochice/websocket-chatroom/internal/transport/ws"
	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

func startServer(t *testing.T, opts ...ws.Option) *ws.Server {
	t.Helper()
	srv := ws.New("127.0.0.1:0", chat.NewHandler(chat.NewRegistry()), opts...)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *ws.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func send(t *testing.T, c *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	data, err := protocol.EncodeClient(msg)
	require.NoError(t, err)
	require.NoError(t, c.Write(context.Background(), websocket.MessageText, data))
}

func recv(t *testing.T, c *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	msg, err := protocol.DecodeServer(data)
	require.NoError(t, err)
	return msg
}

func connect(t *testing.T, srv *ws.Server, name string) (*websocket.Conn, protocol.Connected) {
	t.Helper()
	c := dial(t, srv)
	send(t, c, protocol.Connect{Name: name})
	connected, ok := recv(t, c).(protocol.Connected)
	require.True(t, ok)
	_, ok = recv(t, c).(protocol.AllUsers)
	require.True(t, ok)
	return c, connected
}

func TestServer_Addr(t *testing.T) {
	srv := ws.New("127.0.0.1:0", chat.NewHandler(chat.NewRegistry()))
	assert.Empty(t, srv.Addr())

	require.NoError(t, srv.Listen())
	defer srv.Stop()
	assert.NotEmpty(t, srv.Addr())
}

func TestServer_Chat(t *testing.T) {
	srv := startServer(t)

	bob, _ := connect(t, srv, "bob")
	alice, self := connect(t, srv, "alice")
	assert.Equal(t, protocol.NewUserAdded{ID: self.ID, Name: "alice"}, recv(t, bob))

	send(t, alice, protocol.UserMessage{ID: self.ID, Name: "alice", Body: "hi"})
	assert.Equal(t, protocol.UserMessage{ID: self.ID, Name: "alice", Body: "hi"}, recv(t, bob))

	require.NoError(t, alice.Close(websocket.StatusNormalClosure, ""))
	assert.Equal(t, protocol.Disconnected{ID: self.ID, Name: "alice"}, recv(t, bob))
}

func TestServer_RejectsNonConnectFirstFrame(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv)

	send(t, c, protocol.UserMessage{ID: 1, Name: "x", Body: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestServer_IgnoresBinaryFrames(t *testing.T) {
	srv := startServer(t)
	c := dial(t, srv)

	require.NoError(t, c.Write(context.Background(), websocket.MessageBinary, []byte{0x01, 0x02}))
	send(t, c, protocol.Connect{Name: "bob"})

	assert.Equal(t, protocol.Connected{ID: 1, Name: "bob"}, recv(t, c))
}

func TestServer_MaxFrameBytes(t *testing.T) {
	srv := startServer(t, ws.WithMaxFrameBytes(64))
	c, _ := connect(t, srv, "bob")

	send(t, c, protocol.UserMessage{ID: 1, Name: "bob", Body: strings.Repeat("x", 128)})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	assert.Error(t, err)
}

func TestServer_MaxConnections(t *testing.T) {
	srv := startServer(t, ws.WithMaxConnections(1))
	connect(t, srv, "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws://"+srv.Addr()+"/", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Route(t *testing.T) {
	srv := startServer(t, ws.WithRoute("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})))

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestServer_StopClosesConnections(t *testing.T) {
	srv := ws.New("127.0.0.1:0", chat.NewHandler(chat.NewRegistry()))
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()

	c, _ := connect(t, srv, "bob")

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	assert.Error(t, err)
}
