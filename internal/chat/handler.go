package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/omochice/websocket-chatroom/internal/metrics"
	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

// ErrRejected is returned by Serve when the first frame is not a valid
// Connect. Such a connection is closed without being registered.
var ErrRejected = errors.New("connection rejected")

// rejecter is implemented by transports that can tell the remote side why
// it is being dropped.
type rejecter interface {
	Reject(reason string) error
}

// Handler runs the chat protocol for each accepted connection against a
// shared Registry.
type Handler struct {
	registry    *Registry
	log         *zap.Logger
	metrics     *metrics.Server
	outboxLimit int
	rps         rate.Limit
	burst       int
	connectWait time.Duration
	lastID      atomic.Uint32
}

// DefaultConnectTimeout is how long a new connection may take to send
// Connect before it is dropped.
const DefaultConnectTimeout = 10 * time.Second

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Server) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithOutboxLimit bounds each peer's outbound queue. Zero means unbounded.
func WithOutboxLimit(n int) Option {
	return func(h *Handler) { h.outboxLimit = n }
}

// WithRateLimit limits inbound frames per connection. Frames over the
// limit are dropped. A non-positive rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *Handler) {
		h.rps = rate.Limit(rps)
		h.burst = max(burst, 1)
	}
}

// WithConnectTimeout bounds the wait for the first frame. A non-positive
// d waits forever.
func WithConnectTimeout(d time.Duration) Option {
	return func(h *Handler) { h.connectWait = d }
}

// NewHandler creates a Handler over registry.
func NewHandler(registry *Registry, opts ...Option) *Handler {
	h := &Handler{
		registry:    registry,
		log:         zap.NewNop(),
		connectWait: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry shared by all connections.
func (h *Handler) Registry() *Registry {
	return h.registry
}

// Serve runs one connection to completion and closes it. It returns nil
// when the remote side closed the connection cleanly.
func (h *Handler) Serve(ctx context.Context, conn Conn) error {
	defer conn.Close()

	identity := uuid.NewString()
	log := h.log.With(zap.String("conn", identity), zap.String("remote", conn.RemoteAddr()))
	h.metrics.ConnectionAccepted()

	name, err := h.awaitConnect(ctx, conn)
	if err != nil {
		log.Info("connection rejected", zap.Error(err))
		if r, ok := conn.(rejecter); ok && errors.Is(err, ErrRejected) {
			_ = r.Reject("expected Connect")
		}
		return err
	}

	id := h.lastID.Add(1)
	out := NewOutbox(h.outboxLimit)
	out.OnOverflow(func() { _ = conn.Close() })
	peer := Peer{Identity: identity, Addr: conn.RemoteAddr(), Out: out, ID: id, Name: name}
	log = log.With(zap.Uint32("id", id), zap.String("name", name))

	if err := h.register(peer, out); err != nil {
		log.DPanic("registry rejected new peer", zap.Error(err))
		return err
	}
	h.metrics.PeerJoined()
	log.Info("peer joined")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, out, log)
	}()

	h.broadcastExcept(identity, protocol.NewUserAdded(peer.User()), log)

	err = h.readLoop(ctx, conn, identity, log)

	if _, rerr := h.registry.Remove(identity); rerr != nil {
		log.DPanic("registry lost peer", zap.Error(rerr))
	}
	h.metrics.PeerLeft()
	out.Close()
	h.broadcastExcept("", protocol.Disconnected(peer.User()), log)

	_ = conn.Close()
	<-writerDone

	if errors.Is(err, io.EOF) {
		log.Info("peer left")
		return nil
	}
	log.Info("peer dropped", zap.Error(err))
	return err
}

// awaitConnect reads the first frame and returns the requested name.
func (h *Handler) awaitConnect(ctx context.Context, conn Conn) (string, error) {
	if h.connectWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.connectWait)
		defer cancel()
	}
	data, err := conn.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("read first frame: %w", err)
	}
	msg, err := protocol.DecodeClient(data)
	if err != nil {
		h.metrics.FrameDropped(metrics.DropMalformed)
		return "", fmt.Errorf("%w: %w", ErrRejected, err)
	}
	h.metrics.FrameReceived(msg.Kind())
	c, ok := msg.(protocol.Connect)
	if !ok {
		h.metrics.FrameDropped(metrics.DropUnexpected)
		return "", fmt.Errorf("%w: first frame is %s", ErrRejected, msg.Kind())
	}
	return c.Name, nil
}

// register adds the peer and queues Connected and AllUsers to it before
// any other peer can broadcast to it.
func (h *Handler) register(p Peer, out *Outbox) error {
	connected, err := protocol.EncodeServer(protocol.Connected(p.User()))
	if err != nil {
		return err
	}
	var welcomeErr error
	err = h.registry.Register(p, func(roster []protocol.User) {
		all, err := protocol.EncodeServer(protocol.AllUsers{Users: roster})
		if err != nil {
			welcomeErr = err
			return
		}
		_ = out.Push(connected)
		_ = out.Push(all)
	})
	if err != nil {
		return err
	}
	return welcomeErr
}

func (h *Handler) readLoop(ctx context.Context, conn Conn, identity string, log *zap.Logger) error {
	var limiter *rate.Limiter
	if h.rps > 0 {
		limiter = rate.NewLimiter(h.rps, h.burst)
	}

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if limiter != nil && !limiter.Allow() {
			h.metrics.FrameDropped(metrics.DropRateLimited)
			log.Debug("rate limited frame dropped")
			continue
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			h.metrics.FrameDropped(metrics.DropMalformed)
			log.Warn("malformed frame dropped", zap.Error(err))
			continue
		}
		h.metrics.FrameReceived(msg.Kind())

		switch m := msg.(type) {
		case protocol.UserMessage:
			h.broadcastExcept(identity, m, log)
		case protocol.Connect:
			h.metrics.FrameDropped(metrics.DropUnexpected)
			log.Warn("repeated Connect ignored", zap.String("requested", m.Name))
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn Conn, out *Outbox, log *zap.Logger) {
	// Closing the transport unblocks the reader, so any writer exit ends
	// the connection.
	defer conn.Close()

	for {
		frame, err := out.Next(ctx)
		if err != nil {
			if out.Overflowed() {
				h.metrics.FrameDropped(metrics.DropOutbox)
				log.Warn("outbound queue overflowed, dropping slow peer")
			}
			return
		}
		if err := conn.Write(ctx, frame); err != nil {
			log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

// broadcastExcept encodes msg once and queues it to every peer but
// identity. An empty identity reaches everyone.
func (h *Handler) broadcastExcept(identity string, msg protocol.ServerMessage, log *zap.Logger) {
	frame, err := protocol.EncodeServer(msg)
	if err != nil {
		log.Error("encode broadcast", zap.String("kind", msg.Kind()), zap.Error(err))
		return
	}
	var n int
	if identity == "" {
		n = h.registry.BroadcastAll(frame)
	} else {
		n = h.registry.BroadcastExcept(identity, frame)
	}
	h.metrics.Delivered(n)
}
