package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/omochice/websocket-chatroom/internal/chat"
)

// Server accepts TCP connections and hands each one to the chat Handler.
type Server struct {
	address  string
	handler  *chat.Handler
	log      *zap.Logger
	maxFrame int
	sem      *semaphore.Weighted

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMaxConnections caps concurrent connections. Connections over the cap
// are closed immediately. Zero means unlimited.
func WithMaxConnections(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithMaxFrameBytes limits the length of an inbound line.
func WithMaxFrameBytes(n int) Option {
	return func(s *Server) { s.maxFrame = n }
}

// New creates a TCP server that serves connections with handler.
func New(address string, handler *chat.Handler, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		address: address,
		handler: handler,
		log:     zap.NewNop(),
		conns:   make(map[*Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the listening socket. Addr is valid once it returns.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("tcp server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("tcp server is not listening")
	}

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.log.Warn("accept failed", zap.Error(err))
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if s.sem != nil && !s.sem.TryAcquire(1) {
			s.log.Warn("connection limit reached", zap.String("remote", netConn.RemoteAddr().String()))
			_ = netConn.Close()
			continue
		}

		conn := NewConn(netConn, s.maxFrame)
		if !s.track(conn) {
			_ = conn.Close()
			s.release()
			return nil
		}
		go s.handle(conn)
	}
}

// Start listens and serves. It blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and every live connection, then waits for
// their handlers to return.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	s.stopped = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handle(conn *Conn) {
	defer s.release()
	defer s.untrack(conn)

	if err := s.handler.Serve(s.ctx, conn); err != nil {
		s.log.Debug("connection ended", zap.String("remote", conn.RemoteAddr()), zap.Error(err))
	}
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}
