// Package tcp provides a raw TCP transport for the chat server. Each frame
// is one line of JSON terminated by '\n'.
package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultMaxFrameBytes bounds a line when no limit is given.
const DefaultMaxFrameBytes = 64 * 1024

// ErrFrameTooLarge is returned by Read when a line exceeds the frame limit.
var ErrFrameTooLarge = errors.New("tcp frame too large")

// Conn adapts net.Conn to chat.Conn. It is used on both ends of the
// connection.
type Conn struct {
	conn     net.Conn
	scanner  *bufio.Scanner
	maxFrame int

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps a net.Conn. maxFrame of zero or less means
// DefaultMaxFrameBytes.
func NewConn(conn net.Conn, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	scanner := bufio.NewScanner(conn)
	// One extra byte so a line of exactly maxFrame still fits with its '\n'.
	scanner.Buffer(make([]byte, 0, min(4096, maxFrame+1)), maxFrame+1)
	return &Conn{
		conn:     conn,
		scanner:  scanner,
		maxFrame: maxFrame,
	}
}

// Read implements chat.Conn. Empty lines are skipped.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		return data, nil
	}

	err := c.scanner.Err()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	switch {
	case err == nil:
		return nil, io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, c.maxFrame)
	default:
		return nil, err
	}
}

// Write implements chat.Conn. data must not contain a newline.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		return errors.New("tcp frame contains a newline")
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := c.conn.Write(line); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
