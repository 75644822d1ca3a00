package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/omochice/websocket-chatroom/internal/chat"
)

// Server accepts WebSocket upgrades on any path and hands each connection
// to the chat Handler. Extra HTTP handlers, such as metrics, may be mounted
// on the same listener.
type Server struct {
	address  string
	handler  *chat.Handler
	log      *zap.Logger
	maxFrame int64
	sem      *semaphore.Weighted
	routes   map[string]http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
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

// WithMaxConnections caps concurrent WebSocket connections. Upgrades over
// the cap get 503. Zero means unlimited.
func WithMaxConnections(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithMaxFrameBytes limits the size of an inbound message.
func WithMaxFrameBytes(n int64) Option {
	return func(s *Server) { s.maxFrame = n }
}

// WithRoute serves h at path instead of upgrading requests for it.
func WithRoute(path string, h http.Handler) Option {
	return func(s *Server) { s.routes[path] = h }
}

// New creates a WebSocket server that serves connections with handler.
func New(address string, handler *chat.Handler, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		address: address,
		handler: handler,
		log:     zap.NewNop(),
		routes:  make(map[string]http.Handler),
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
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}

	mux := http.NewServeMux()
	for path, h := range s.routes {
		mux.Handle(path, h)
	}
	mux.HandleFunc("/", s.handleUpgrade)

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	s.log.Info("websocket server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Serve accepts connections until Stop is called. Listen must have
// succeeded first.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener, server := s.listener, s.server
	s.mu.Unlock()
	if listener == nil {
		return errors.New("websocket server is not listening")
	}

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
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
	server := s.server
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	if server != nil {
		_ = server.Close()
	}
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

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.sem != nil {
		if !s.sem.TryAcquire(1) {
			s.log.Warn("connection limit reached", zap.String("remote", r.RemoteAddr))
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		defer s.sem.Release(1)
	}

	netConn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	var src io.Reader
	if rw != nil {
		src = rw.Reader
	}
	conn := NewConn(netConn, src, r.RemoteAddr, s.maxFrame)

	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	if err := s.handler.Serve(s.ctx, conn); err != nil {
		s.log.Debug("connection ended", zap.String("remote", r.RemoteAddr), zap.Error(err))
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
