package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/websocket-chatroom/internal/config"
	"github.com/omochice/websocket-chatroom/internal/logger"
	"github.com/omochice/websocket-chatroom/internal/server"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)
	overrides := config.Default().Server
	logOverrides := config.Default().Log

	cmd := &cobra.Command{
		Use:           "chatroom-server",
		Short:         "Run the chat room server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, overrides, logOverrides)
			if err := cfg.ValidateServer(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if err := run(cmd.Context(), cfg.Server, log); err != nil {
				log.Error("server failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	f.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	f.StringVarP(&overrides.Address, "addr", "a", overrides.Address, "WebSocket listen address")
	f.StringVar(&overrides.TCPAddress, "tcp-addr", overrides.TCPAddress, "raw TCP listen address (empty disables)")
	f.StringVar(&overrides.MetricsPath, "metrics-path", overrides.MetricsPath, "HTTP path serving Prometheus metrics (empty disables)")
	f.Int64Var(&overrides.MaxConnections, "max-connections", overrides.MaxConnections, "maximum concurrent connections per listener (0 = unlimited)")
	f.IntVar(&overrides.OutboxLimit, "outbox-limit", overrides.OutboxLimit, "frames queued per peer before it is dropped (0 = unbounded)")
	f.Float64Var(&overrides.RateLimit.RPS, "rate-limit", overrides.RateLimit.RPS, "inbound frames per second per connection (0 = unlimited)")
	f.StringVar(&logOverrides.Level, "log-level", logOverrides.Level, "debug, info, warn or error")
	f.StringVar(&logOverrides.Format, "log-format", logOverrides.Format, "console or json")
	return cmd
}

// applyFlags copies the flags the user set over cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, s config.ServerConfig, l config.LogConfig) {
	f := cmd.Flags()
	if f.Changed("addr") {
		cfg.Server.Address = s.Address
	}
	if f.Changed("tcp-addr") {
		cfg.Server.TCPAddress = s.TCPAddress
	}
	if f.Changed("metrics-path") {
		cfg.Server.MetricsPath = s.MetricsPath
	}
	if f.Changed("max-connections") {
		cfg.Server.MaxConnections = s.MaxConnections
	}
	if f.Changed("outbox-limit") {
		cfg.Server.OutboxLimit = s.OutboxLimit
	}
	if f.Changed("rate-limit") {
		cfg.Server.RateLimit.RPS = s.RateLimit.RPS
	}
	if f.Changed("log-level") {
		cfg.Log.Level = l.Level
	}
	if f.Changed("log-format") {
		cfg.Log.Format = l.Format
	}
}

func run(parent context.Context, cfg config.ServerConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, log)
	if err := srv.Listen(); err != nil {
		return err
	}
	log.Info("chat server started",
		zap.String("ws", srv.Addr()),
		zap.String("tcp", srv.TCPAddr()),
		zap.String("metrics", cfg.MetricsPath),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		srv.Stop()
		return nil
	})
	return g.Wait()
}
