// Package ws provides the WebSocket transport for the chat server.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrFrameTooLarge is returned by Read when a message exceeds the frame
// limit. The connection is unusable afterwards.
var ErrFrameTooLarge = errors.New("websocket message too large")

const closeTimeout = time.Second

// Conn adapts a hijacked, upgraded net.Conn to chat.Conn. Only text
// messages are delivered; binary messages are discarded.
type Conn struct {
	conn       net.Conn
	reader     *wsutil.Reader
	control    wsutil.FrameHandlerFunc
	maxFrame   int64
	remoteAddr string

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded server-side connection. src is where frames are
// read from, normally the buffered reader returned by the upgrade; nil
// reads straight from conn. maxFrame of zero or less disables the limit.
func NewConn(conn net.Conn, src io.Reader, remoteAddr string, maxFrame int64) *Conn {
	if src == nil {
		src = conn
	}
	c := &Conn{
		conn:       conn,
		maxFrame:   maxFrame,
		remoteAddr: remoteAddr,
	}
	c.control = wsutil.ControlFrameHandler(lockedWriter{c}, ws.StateServerSide)
	c.reader = &wsutil.Reader{
		Source:         src,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: c.control,
	}
	return c
}

// Read implements chat.Conn. A close frame from the peer is reported as
// io.EOF.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := c.readText()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *Conn) readText() ([]byte, error) {
	for {
		hdr, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.control(hdr, c.reader); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		src := io.Reader(c.reader)
		if c.maxFrame > 0 {
			src = io.LimitReader(c.reader, c.maxFrame+1)
		}
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, err
		}
		if c.maxFrame > 0 && int64(len(data)) > c.maxFrame {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, c.maxFrame)
		}
		return data, nil
	}
}

// Write implements chat.Conn. Each call sends one text message.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := wsutil.WriteServerMessage(c.conn, ws.OpText, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Close implements chat.Conn. It sends a normal close frame on a best
// effort basis and closes the socket.
func (c *Conn) Close() error {
	return c.closeWith(ws.StatusNormalClosure, "")
}

// Reject closes the connection with a policy violation status.
func (c *Conn) Reject(reason string) error {
	return c.closeWith(ws.StatusPolicyViolation, reason)
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

func (c *Conn) closeWith(code ws.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		// A writer stuck on a dead peer holds wmu; the deadline frees it.
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
		c.wmu.Lock()
		frame := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
		_ = ws.WriteFrame(c.conn, frame)
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// lockedWriter serialises control replies with regular writes.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}
