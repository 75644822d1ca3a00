package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omochice/websocket-chatroom/internal/client"
	"github.com/omochice/websocket-chatroom/internal/config"
	"github.com/omochice/websocket-chatroom/internal/logger"
	"github.com/omochice/websocket-chatroom/internal/metrics"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		envFile     string
		logFile     string
		metricsAddr string
		url         string
		name        string
	)

	cmd := &cobra.Command{
		Use:           "chatroom-client",
		Short:         "Join a chat room from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				cfg.Client.URL = url
			}
			if cmd.Flags().Changed("name") {
				cfg.Client.Name = name
			}
			if err := cfg.ValidateClient(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log, closeLog, err := openLog(logFile, cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()

			reg := prometheus.NewRegistry()
			if metricsAddr != "" {
				stop := serveMetrics(metricsAddr, reg, log)
				defer stop()
			}

			c := client.New(
				client.WithLogger(log),
				client.WithMetrics(metrics.NewClient(reg)),
				client.WithBackoff(cfg.Client.Backoff.Duration()),
				client.WithHandshakeTimeout(cfg.Client.HandshakeTimeout.Duration()),
				client.WithQueueSize(cfg.Client.QueueSize),
				client.WithMaxFrameBytes(int(cfg.Client.MaxFrameBytes.Int64())),
			)
			return runUI(cmd.Context(), c, cfg.Client)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	f.StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment if present")
	f.StringVarP(&url, "url", "u", "", "server URL (ws://, wss:// or tcp://)")
	f.StringVarP(&name, "name", "n", "", "user name; joins immediately when set")
	f.StringVar(&logFile, "log-file", "", "write logs to this file (the terminal is used by the UI)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (empty disables)")
	return cmd
}

func openLog(path string, cfg config.LogConfig) (*zap.Logger, func(), error) {
	if path == "" {
		return zap.NewNop(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log, err := logger.NewTo(f, cfg.Level, cfg.Format)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return log, func() {
		_ = log.Sync()
		_ = f.Close()
	}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
