// Package chat implements the broadcast side of the chat service: the peer
// registry shared by all connections and the per-connection handler.
package chat

import "context"

// Conn abstracts a bidirectional text frame connection for both TCP and
// WebSocket transports.
type Conn interface {
	// Read reads a single text frame.
	// Returns io.EOF or a transport error when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single text frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
