package chat_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/websocket-chatroom/internal/chat"
	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	written    chan []byte
	writeErr   error
	block      chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}
	rejectedMu sync.Mutex
	rejected   string
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 16),
		written:    make(chan []byte, 64),
		closed:     make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, io.ErrClosedPipe
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-m.closed:
			return io.ErrClosedPipe
		}
	}
	select {
	case <-m.closed:
		return io.ErrClosedPipe
	default:
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.written <- copied
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) Reject(reason string) error {
	m.rejectedMu.Lock()
	m.rejected = reason
	m.rejectedMu.Unlock()
	return m.Close()
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

// send queues a client frame for the handler to read.
func (m *mockConn) send(t *testing.T, msg protocol.ClientMessage) {
	t.Helper()
	data, err := protocol.EncodeClient(msg)
	require.NoError(t, err)
	m.readCh <- data
}

// hangUp makes the next Read return io.EOF.
func (m *mockConn) hangUp() {
	close(m.readCh)
}

// next returns the next frame the handler wrote, decoded.
func (m *mockConn) next(t *testing.T) protocol.ServerMessage {
	t.Helper()
	select {
	case data := <-m.written:
		msg, err := protocol.DecodeServer(data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

// quiet asserts that nothing else is written for a short while.
func (m *mockConn) quiet(t *testing.T) {
	t.Helper()
	select {
	case data := <-m.written:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
