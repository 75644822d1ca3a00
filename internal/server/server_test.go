package server_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/omochice/websocket-chatroom/internal/config"
	"github.com/omochice/websocket-chatroom/internal/server"
	"github.com/omochice/websocket-chatroom/internal/transport/tcp"
	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

func testConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.Address = "127.0.0.1:0"
	cfg.TCPAddress = "127.0.0.1:0"
	return cfg
}

func startServer(t *testing.T, cfg config.ServerConfig) *server.Server {
	t.Helper()
	srv := server.New(cfg, nil)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(srv.Stop)
	return srv
}

// peer hides which transport a test client uses.
type peer interface {
	send(t *testing.T, msg protocol.ClientMessage)
	recv(t *testing.T) protocol.ServerMessage
	close()
}

type wsPeer struct{ c *websocket.Conn }

func dialWS(t *testing.T, srv *server.Server) *wsPeer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws://"+srv.Addr(), nil)
	require.NoError(t, err)
	p := &wsPeer{c: c}
	t.Cleanup(p.close)
	return p
}

func (p *wsPeer) send(t *testing.T, msg protocol.ClientMessage) {
	t.Helper()
	data, err := protocol.EncodeClient(msg)
	require.NoError(t, err)
	require.NoError(t, p.c.Write(context.Background(), websocket.MessageText, data))
}

func (p *wsPeer) recv(t *testing.T) protocol.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := p.c.Read(ctx)
	require.NoError(t, err)
	msg, err := protocol.DecodeServer(data)
	require.NoError(t, err)
	return msg
}

func (p *wsPeer) close() { _ = p.c.Close(websocket.StatusNormalClosure, "") }

type tcpPeer struct{ c *tcp.Conn }

func dialTCP(t *testing.T, srv *server.Server) *tcpPeer {
	t.Helper()
	nc, err := net.DialTimeout("tcp", srv.TCPAddr(), 2*time.Second)
	require.NoError(t, err)
	p := &tcpPeer{c: tcp.NewConn(nc, 0)}
	t.Cleanup(p.close)
	return p
}

func (p *tcpPeer) send(t *testing.T, msg protocol.ClientMessage) {
	t.Helper()
	data, err := protocol.EncodeClient(msg)
	require.NoError(t, err)
	require.NoError(t, p.c.Write(context.Background(), data))
}

func (p *tcpPeer) recv(t *testing.T) protocol.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := p.c.Read(ctx)
	require.NoError(t, err)
	msg, err := protocol.DecodeServer(data)
	require.NoError(t, err)
	return msg
}

func (p *tcpPeer) close() { _ = p.c.Close() }

func TestServer_ListenAddrs(t *testing.T) {
	srv := startServer(t, testConfig())
	assert.NotEmpty(t, srv.Addr())
	assert.NotEmpty(t, srv.TCPAddr())
	assert.NotEqual(t, srv.Addr(), srv.TCPAddr())
}

func TestServer_TCPDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.TCPAddress = ""
	srv := startServer(t, cfg)
	assert.Empty(t, srv.TCPAddr())
}

func TestServer_ListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig()
	cfg.TCPAddress = taken.Addr().String()
	srv := server.New(cfg, nil)
	assert.Error(t, srv.Listen())
}

func TestServer_MixedTransports(t *testing.T) {
	srv := startServer(t, testConfig())

	var bob peer = dialWS(t, srv)
	bob.send(t, protocol.Connect{Name: "bob"})
	assert.Equal(t, protocol.Connected{ID: 1, Name: "bob"}, bob.recv(t))
	assert.Equal(t, protocol.AllUsers{Users: []protocol.User{{ID: 1, Name: "bob"}}}, bob.recv(t))

	var alice peer = dialTCP(t, srv)
	alice.send(t, protocol.Connect{Name: "alice"})
	assert.Equal(t, protocol.Connected{ID: 2, Name: "alice"}, alice.recv(t))
	assert.Equal(t, protocol.AllUsers{Users: []protocol.User{
		{ID: 1, Name: "bob"},
		{ID: 2, Name: "alice"},
	}}, alice.recv(t))
	assert.Equal(t, protocol.NewUserAdded{ID: 2, Name: "alice"}, bob.recv(t))
	assert.Equal(t, 2, srv.PeerCount())

	alice.send(t, protocol.UserMessage{ID: 2, Name: "alice", Body: "hi"})
	assert.Equal(t, protocol.UserMessage{ID: 2, Name: "alice", Body: "hi"}, bob.recv(t))

	bob.send(t, protocol.UserMessage{ID: 1, Name: "bob", Body: "hello"})
	assert.Equal(t, protocol.UserMessage{ID: 1, Name: "bob", Body: "hello"}, alice.recv(t))

	alice.close()
	assert.Equal(t, protocol.Disconnected{ID: 2, Name: "alice"}, bob.recv(t))
	require.Eventually(t, func() bool { return srv.PeerCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_Metrics(t *testing.T) {
	srv := startServer(t, testConfig())

	bob := dialWS(t, srv)
	bob.send(t, protocol.Connect{Name: "bob"})
	bob.recv(t)
	bob.recv(t)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chatroom_peers 1")
	assert.Contains(t, string(body), `chatroom_frames_received_total{kind="Connect"} 1`)
}

func TestServer_ServeStopsOnContextCancel(t *testing.T) {
	srv := server.New(testConfig(), nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	bob := dialWS(t, srv)
	bob.send(t, protocol.Connect{Name: "bob"})
	bob.recv(t)

	cancel()

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, 0, srv.PeerCount())
}

func TestServer_StopIsIdempotent(t *testing.T) {
	srv := startServer(t, testConfig())
	srv.Stop()
	srv.Stop()
}
