package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"roomcast/internal/config"
	"roomcast/internal/httpserver"
	"roomcast/internal/hub"
	"roomcast/internal/metrics"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting roomcast-server",
		"listen_addr", cfg.ListenAddr,
		"chat_history_limit", cfg.ChatHistoryLimit,
		"max_chat_file_bytes", cfg.MaxFileBytes,
		"max_signaling_message_bytes", cfg.MaxMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxMessagesPerSecond,
		"ws_ping_interval", cfg.PingInterval,
		"ws_pong_timeout", cfg.PongTimeout,
		"stun_servers", len(cfg.STUNServers),
	)

	m := metrics.New()
	h, err := hub.New(logger, m, hub.Options{
		ChatHistoryLimit: cfg.ChatHistoryLimit,
		MaxFileBytes:     cfg.MaxFileBytes,
	})
	if err != nil {
		logger.Error("failed to construct hub", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	srv.Mux().Handle("GET /ws", &hub.WebSocketHandler{
		Hub: h,
		Log: logger,
		Opts: hub.ConnOptions{
			MaxMessageBytes:      cfg.MaxMessageBytes,
			MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
			SendQueueSize:        cfg.SendQueueSize,
			PingInterval:         cfg.PingInterval,
			PongTimeout:          cfg.PongTimeout,
		},
	})

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	return commit, built
}
