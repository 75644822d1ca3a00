package chat

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrOutboxClosed is returned by Push after Close, and by Next once the
	// outbox is closed and drained.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by Push when the limit is exceeded. The
	// outbox discards its frames and closes itself so the owning
	// connection is torn down.
	ErrOutboxFull = errors.New("outbox full")
)

// Outbox is a peer's outbound frame queue. Push never blocks, so it can be
// called while the registry lock is held; a single writer drains it with
// Next in FIFO order.
type Outbox struct {
	mu         sync.Mutex
	frames     [][]byte
	limit      int
	closed     bool
	overflowed bool
	onOverflow func()
	ready      chan struct{}
}

// NewOutbox creates an outbox holding at most limit frames. A limit of zero
// or less means unbounded.
func NewOutbox(limit int) *Outbox {
	return &Outbox{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// OnOverflow registers f to run, in its own goroutine, when the limit is
// exceeded. It must be called before the outbox is shared.
func (o *Outbox) OnOverflow(f func()) {
	o.onOverflow = f
}

// Push appends a frame.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutboxClosed
	}
	if o.limit > 0 && len(o.frames) >= o.limit {
		// A peer this far behind is disconnected, not caught up.
		o.frames = nil
		o.overflowed = true
		o.closeLocked()
		if o.onOverflow != nil {
			go o.onOverflow()
		}
		return ErrOutboxFull
	}
	o.frames = append(o.frames, frame)
	o.signal()
	return nil
}

// Next blocks until a frame is available and returns it. Frames pushed
// before Close are still returned; after that Next returns ErrOutboxClosed.
func (o *Outbox) Next(ctx context.Context) ([]byte, error) {
	for {
		o.mu.Lock()
		if len(o.frames) > 0 {
			frame := o.frames[0]
			o.frames[0] = nil
			o.frames = o.frames[1:]
			o.mu.Unlock()
			return frame, nil
		}
		closed := o.closed
		o.mu.Unlock()

		if closed {
			return nil, ErrOutboxClosed
		}

		select {
		case <-o.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops accepting frames and wakes the writer.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

// Overflowed reports whether the outbox was closed by exceeding its limit.
func (o *Outbox) Overflowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overflowed
}

func (o *Outbox) closeLocked() {
	if o.closed {
		return
	}
	o.closed = true
	o.signal()
}

func (o *Outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
