// Package server wires the chat handler to its listeners: the WebSocket
// endpoint, an optional raw TCP endpoint and the metrics endpoint. Every
// listener shares one peer registry, so TCP and WebSocket peers chat with
// each other.
package server

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/websocket-chatroom/internal/chat"
	"github.com/omochice/websocket-chatroom/internal/config"
	"github.com/omochice/websocket-chatroom/internal/metrics"
	"github.com/omochice/websocket-chatroom/internal/transport/tcp"
	"github.com/omochice/websocket-chatroom/internal/transport/ws"
)

// Server runs the chat service.
type Server struct {
	log      *zap.Logger
	registry *chat.Registry
	gatherer prometheus.Gatherer

	ws  *ws.Server
	tcp *tcp.Server

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Server from cfg. Nothing is bound until Listen.
func New(cfg config.ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := chat.NewRegistry()
	handler := chat.NewHandler(registry,
		chat.WithLogger(log.Named("chat")),
		chat.WithMetrics(metrics.NewServer(promReg)),
		chat.WithOutboxLimit(cfg.OutboxLimit),
		chat.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		chat.WithConnectTimeout(cfg.ConnectTimeout.Duration()),
	)

	wsOpts := []ws.Option{
		ws.WithLogger(log.Named("ws")),
		ws.WithMaxConnections(cfg.MaxConnections),
		ws.WithMaxFrameBytes(cfg.MaxFrameBytes.Int64()),
	}
	if cfg.MetricsPath != "" {
		wsOpts = append(wsOpts, ws.WithRoute(cfg.MetricsPath, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
	}

	s := &Server{
		log:      log,
		registry: registry,
		gatherer: promReg,
		ws:       ws.New(cfg.Address, handler, wsOpts...),
		done:     make(chan struct{}),
	}
	if cfg.TCPAddress != "" {
		s.tcp = tcp.New(cfg.TCPAddress, handler,
			tcp.WithLogger(log.Named("tcp")),
			tcp.WithMaxConnections(cfg.MaxConnections),
			tcp.WithMaxFrameBytes(int(cfg.MaxFrameBytes.Int64())),
		)
	}
	return s
}

// Listen binds every configured listener. If one fails, the ones already
// bound are closed.
func (s *Server) Listen() error {
	if err := s.ws.Listen(); err != nil {
		return err
	}
	if s.tcp != nil {
		if err := s.tcp.Listen(); err != nil {
			s.ws.Stop()
			return err
		}
	}
	return nil
}

// Serve runs the listeners until ctx is cancelled, Stop is called or a
// listener fails. Listen must have succeeded first.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(s.ws.Serve)
	if s.tcp != nil {
		g.Go(s.tcp.Serve)
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			s.Stop()
		case <-s.done:
		}
		return nil
	})

	err := g.Wait()
	s.log.Info("server stopped")
	return err
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(context.Background())
}

// Stop closes every listener and connection. It is safe to call more than
// once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.ws.Stop()
		if s.tcp != nil {
			s.tcp.Stop()
		}
	})
}

// Addr returns the WebSocket listening address.
func (s *Server) Addr() string {
	return s.ws.Addr()
}

// TCPAddr returns the TCP listening address, or "" when TCP is disabled.
func (s *Server) TCPAddr() string {
	if s.tcp == nil {
		return ""
	}
	return s.tcp.Addr()
}

// PeerCount returns the number of registered peers.
func (s *Server) PeerCount() int {
	return s.registry.Len()
}

// Gatherer exposes the metrics registry.
func (s *Server) Gatherer() prometheus.Gatherer {
	return s.gatherer
}
