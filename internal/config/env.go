package config

import (
	"fmt"
	"strconv"
)

type lookupFunc func(key string) (string, bool)

// applyEnv overrides cfg with every CHATROOM_* variable that is set.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("SERVER_ADDRESS", &cfg.Server.Address)
	e.str("SERVER_TCP_ADDRESS", &cfg.Server.TCPAddress)
	e.str("SERVER_METRICS_PATH", &cfg.Server.MetricsPath)
	e.int64("SERVER_MAX_CONNECTIONS", &cfg.Server.MaxConnections)
	e.size("SERVER_MAX_FRAME_BYTES", &cfg.Server.MaxFrameBytes)
	e.int("SERVER_OUTBOX_LIMIT", &cfg.Server.OutboxLimit)
	e.float("SERVER_RATE_LIMIT_RPS", &cfg.Server.RateLimit.RPS)
	e.int("SERVER_RATE_LIMIT_BURST", &cfg.Server.RateLimit.Burst)
	e.duration("SERVER_CONNECT_TIMEOUT", &cfg.Server.ConnectTimeout)

	e.str("CLIENT_URL", &cfg.Client.URL)
	e.str("CLIENT_NAME", &cfg.Client.Name)
	e.duration("CLIENT_BACKOFF", &cfg.Client.Backoff)
	e.duration("CLIENT_HANDSHAKE_TIMEOUT", &cfg.Client.HandshakeTimeout)
	e.int("CLIENT_QUEUE_SIZE", &cfg.Client.QueueSize)
	e.size("CLIENT_MAX_FRAME_BYTES", &cfg.Client.MaxFrameBytes)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)

	return e.err
}

// envReader records the first parse failure and skips the rest.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	return e.lookup(EnvPrefix + key)
}

func (e *envReader) fail(key, raw string, err error) {
	e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, raw, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) size(key string, dst *SizeBytes) {
	if v, ok := e.get(key); ok {
		s, err := parseSize(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = s
	}
}

func (e *envReader) duration(key string, dst *Duration) {
	if v, ok := e.get(key); ok {
		d, err := parseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
