// Package client implements the chat client's connection state machine.
//
// A Client waits for its first Configure, then dials, performs the
// Connect/Connected/AllUsers handshake and runs a session until it drops,
// redialing forever with a fixed backoff. Everything it has to say is
// reported on the Events channel; outbound messages go through the Session
// carried by each ConnectedEvent.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/websocket-chatroom/internal/metrics"
	"github.com/omochice/websocket-chatroom/pkg/protocol"
)

// Defaults used when the matching option is not given.
const (
	DefaultBackoff          = time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultQueueSize        = 10
	// DefaultMaxFrameBytes bounds inbound frames. A whole roster arrives
	// in one AllUsers frame.
	DefaultMaxFrameBytes = 1 << 20
)

// ErrAlreadyRunning is returned by Run when the client is already running.
var ErrAlreadyRunning = errors.New("client already running")

type target struct {
	url  string
	name string
}

// Client is a reconnecting chat client.
type Client struct {
	dialer           Dialer
	log              *zap.Logger
	metrics          *metrics.Client
	backoff          time.Duration
	handshakeTimeout time.Duration
	queueSize        int
	maxFrameBytes    int

	events     chan Event
	configured chan struct{}
	configOnce sync.Once
	running    atomic.Bool

	mu     sync.Mutex
	target target
	state  State
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the default SchemeDialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMaxFrameBytes bounds inbound frames on the default dialer. It has no
// effect together with WithDialer.
func WithMaxFrameBytes(n int) Option {
	return func(c *Client) { c.maxFrameBytes = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Client) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBackoff sets the delay between failed connection attempts.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithHandshakeTimeout bounds dialing plus the handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// WithQueueSize sets the capacity of each session's outbound queue.
func WithQueueSize(n int) Option {
	return func(c *Client) { c.queueSize = n }
}

// New creates a Client in StateWaitingForConfig.
func New(opts ...Option) *Client {
	c := &Client{
		log:              zap.NewNop(),
		backoff:          DefaultBackoff,
		handshakeTimeout: DefaultHandshakeTimeout,
		queueSize:        DefaultQueueSize,
		maxFrameBytes:    DefaultMaxFrameBytes,
		events:           make(chan Event, 16),
		configured:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = SchemeDialer{MaxFrameBytes: c.maxFrameBytes}
	}
	return c
}

// Events returns the event stream. It is closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Configure sets the server URL and user name. The first call lets Run
// start dialing. Later calls never interrupt a live session; the newest
// values are used the next time the client dials.
func (c *Client) Configure(url, name string) {
	c.mu.Lock()
	c.target = target{url: url, name: name}
	c.mu.Unlock()

	c.configOnce.Do(func() { close(c.configured) })
}

// Run drives the client until ctx is cancelled and returns ctx.Err().
// Connection failures are reported as events and retried, never returned.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.events)

	c.setState(StateAwaitingDial)
	select {
	case <-c.configured:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		t := c.currentTarget()
		c.setState(StateDisconnected)
		log := c.log.With(zap.String("url", t.url), zap.String("name", t.name))

		conn, connected, users, err := c.connect(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.metrics.DialFailed()
			log.Warn("connection attempt failed, retrying", zap.Duration("backoff", c.backoff), zap.Error(err))
			if !c.emit(ctx, DisconnectedEvent{Err: err}) || !sleep(ctx, c.backoff) {
				return ctx.Err()
			}
			continue
		}

		c.metrics.DialSucceeded()
		sess := newSession(connected.ID, connected.Name, c.queueSize)
		c.setState(StateConnected)
		log.Info("connected", zap.Uint32("id", connected.ID), zap.Int("users", len(users)))

		err = c.emitConnected(ctx, sess, users)
		if err == nil {
			err = c.session(ctx, conn, sess, log)
		}
		sess.Close()
		_ = conn.Close()
		c.setState(StateDisconnected)
		c.metrics.SessionEnded()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Info("disconnected", zap.Error(err))
		if !c.emit(ctx, DisconnectedEvent{Err: err}) {
			return ctx.Err()
		}
	}
}

func (c *Client) emitConnected(ctx context.Context, sess *Session, users []protocol.User) error {
	ev := ConnectedEvent{Session: sess, ID: sess.ID(), Name: sess.Name(), Users: users}
	if !c.emit(ctx, ev) {
		return ctx.Err()
	}
	return nil
}

// connect dials t and completes the handshake within the handshake
// timeout. Every failure after the dial is a *HandshakeError.
func (c *Client) connect(ctx context.Context, t target) (Conn, protocol.Connected, []protocol.User, error) {
	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(hctx, t.url)
	if err != nil {
		return nil, protocol.Connected{}, nil, fmt.Errorf("dial %s: %w", t.url, err)
	}

	connected, users, err := handshake(hctx, conn, t.name)
	if err != nil {
		_ = conn.Close()
		return nil, protocol.Connected{}, nil, err
	}
	return conn, connected, users, nil
}

type readResult struct {
	data []byte
	err  error
}

// session services one live connection until it fails, the session is
// closed locally (nil error) or ctx is cancelled.
func (c *Client) session(ctx context.Context, conn Conn, sess *Session, log *zap.Logger) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan readResult)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			data, err := conn.Read(readCtx)
			select {
			case inbound <- readResult{data: data, err: err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		cancel()
		_ = conn.Close()
		<-readerDone
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-inbound:
			if r.err != nil {
				return fmt.Errorf("receive: %w", r.err)
			}
			msg, err := protocol.DecodeServer(r.data)
			if err != nil {
				log.Warn("undecodable frame dropped", zap.Error(err))
				continue
			}
			if !c.emit(ctx, MessageReceivedEvent{Message: msg}) {
				return ctx.Err()
			}

		case msg, ok := <-sess.queue:
			if !ok {
				return nil
			}
			data, err := protocol.EncodeClient(msg)
			if err != nil {
				log.Warn("unencodable message dropped", zap.String("kind", msg.Kind()), zap.Error(err))
				continue
			}
			if err := conn.Write(ctx, data); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func (c *Client) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) currentTarget() target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
