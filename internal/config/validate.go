package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBackoff          = time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultConnectTimeout   = 10 * time.Second

	// Rosters arrive in one frame, so the client accepts more than the
	// server does.
	defaultClientMaxFrame SizeBytes = 1 << 20
)

// ValidateServer checks the settings cmd/server depends on.
func (c *Config) ValidateServer() error {
	s := c.Server
	var errs []error
	if strings.TrimSpace(s.Address) == "" {
		errs = append(errs, errors.New("server.address must not be empty"))
	}
	if s.MetricsPath != "" && !strings.HasPrefix(s.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("server.metrics_path %q must start with /", s.MetricsPath))
	}
	if s.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}
	if s.MaxFrameBytes < 0 {
		errs = append(errs, errors.New("server.max_frame_bytes must not be negative"))
	}
	if s.OutboxLimit < 0 {
		errs = append(errs, errors.New("server.outbox_limit must not be negative"))
	}
	if s.RateLimit.RPS < 0 || s.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("server.rate_limit values must not be negative"))
	}
	if s.ConnectTimeout < 0 {
		errs = append(errs, errors.New("server.connect_timeout must not be negative"))
	}
	errs = append(errs, c.Log.validate())
	return errors.Join(errs...)
}

// ValidateClient checks the settings cmd/client depends on. An empty name
// is allowed; the user is asked for one.
func (c *Config) ValidateClient() error {
	cl := c.Client
	var errs []error
	if err := ValidateURL(cl.URL); err != nil {
		errs = append(errs, fmt.Errorf("client.url: %w", err))
	}
	if cl.Backoff < 0 {
		errs = append(errs, errors.New("client.backoff must not be negative"))
	}
	if cl.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("client.handshake_timeout must not be negative"))
	}
	if cl.MaxFrameBytes < 0 {
		errs = append(errs, errors.New("client.max_frame_bytes must not be negative"))
	}
	if cl.QueueSize < 1 {
		errs = append(errs, errors.New("client.queue_size must be at least 1"))
	}
	errs = append(errs, c.Log.validate())
	return errors.Join(errs...)
}

// ValidateURL accepts ws://, wss:// and tcp:// URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss", "tcp":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func (l LogConfig) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", l.Level)
	}
	switch l.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q is not one of console, json", l.Format)
	}
	return nil
}
