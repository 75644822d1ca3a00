// Package metrics holds the Prometheus collectors of the chat server and
// client. A nil *Server or *Client is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatroom"

// Drop reasons used as the "reason" label.
const (
	DropMalformed   = "malformed"
	DropRateLimited = "rate_limited"
	DropUnexpected  = "unexpected"
	DropOutbox      = "outbox"
)

// Server collects broadcast server metrics.
type Server struct {
	peers       prometheus.Gauge
	connections prometheus.Counter
	received    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	deliveries  prometheus.Counter
}

// NewServer creates the server collectors and registers them with reg.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Number of peers currently registered.",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Transport connections accepted.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Client frames decoded, by variant.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped instead of being processed or delivered.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Frames queued to peer outboxes by broadcasts.",
		}),
	}
	reg.MustRegister(m.peers, m.connections, m.received, m.dropped, m.deliveries)
	return m
}

func (m *Server) PeerJoined() {
	if m != nil {
		m.peers.Inc()
	}
}

func (m *Server) PeerLeft() {
	if m != nil {
		m.peers.Dec()
	}
}

func (m *Server) ConnectionAccepted() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Server) FrameReceived(kind string) {
	if m != nil {
		m.received.WithLabelValues(kind).Inc()
	}
}

func (m *Server) FrameDropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Server) Delivered(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(float64(n))
	}
}

// Client collects connection state machine metrics.
type Client struct {
	dials     *prometheus.CounterVec
	connected prometheus.Gauge
}

// NewClient creates the client collectors and registers them with reg.
func NewClient(reg prometheus.Registerer) *Client {
	m := &Client{
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "dial_attempts_total",
			Help:      "Dial and handshake attempts, by result.",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connected",
			Help:      "1 while a session is live.",
		}),
	}
	reg.MustRegister(m.dials, m.connected)
	return m
}

func (m *Client) DialSucceeded() {
	if m != nil {
		m.dials.WithLabelValues("ok").Inc()
		m.connected.Set(1)
	}
}

func (m *Client) DialFailed() {
	if m != nil {
		m.dials.WithLabelValues("failed").Inc()
	}
}

func (m *Client) SessionEnded() {
	if m != nil {
		m.connected.Set(0)
	}
}
