// Package config loads server configuration from environment variables with
// command-line flag overrides for the common knobs.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "ROOMCAST_LISTEN_ADDR"
	envVarLogFormat       = "ROOMCAST_LOG_FORMAT"
	envVarLogLevel        = "ROOMCAST_LOG_LEVEL"
	envVarShutdownTimeout = "ROOMCAST_SHUTDOWN_TIMEOUT"

	// Signaling/WebSocket hardening.
	envVarMaxMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueSize        = "SEND_QUEUE_SIZE"
	envVarPingInterval         = "WS_PING_INTERVAL"
	envVarPongTimeout          = "WS_PONG_TIMEOUT"

	// Chat limits.
	envVarChatHistoryLimit = "CHAT_HISTORY_LIMIT"
	envVarMaxFileBytes     = "MAX_CHAT_FILE_BYTES"

	// STUN servers for peers constructed by the client agent; the server only
	// relays and never dials ICE itself, but it advertises these on /webrtc/ice.
	envVarSTUNServers = "STUN_SERVERS"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxMessageBytes      = int64(16 << 20) // inline files ride the signaling channel
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueSize        = 64
	DefaultPingInterval         = 20 * time.Second
	DefaultPongTimeout          = 60 * time.Second

	DefaultChatHistoryLimit = 100
	DefaultMaxFileBytes     = int64(10 << 20) // 10 MiB
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int
	PingInterval         time.Duration
	PongTimeout          time.Duration

	ChatHistoryLimit int
	MaxFileBytes     int64

	STUNServers []string
}

// Load parses configuration from the environment, then applies flag
// overrides. args are the program arguments without the binary name.
func Load(args []string) (Config, error) {
	cfg := Config{
		ListenAddr:      envString(envVarListenAddr, DefaultListenAddr),
		LogFormat:       LogFormatText,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: DefaultShutdownTimeout,

		MaxMessageBytes:      DefaultMaxMessageBytes,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,
		SendQueueSize:        DefaultSendQueueSize,
		PingInterval:         DefaultPingInterval,
		PongTimeout:          DefaultPongTimeout,

		ChatHistoryLimit: DefaultChatHistoryLimit,
		MaxFileBytes:     DefaultMaxFileBytes,

		STUNServers: DefaultSTUNServers,
	}

	var err error
	if cfg.LogFormat, err = parseLogFormat(envString(envVarLogFormat, string(LogFormatText))); err != nil {
		return Config{}, err
	}
	if cfg.LogLevel, err = parseLogLevel(envString(envVarLogLevel, "info")); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = envDuration(envVarShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageBytes, err = envInt64(envVarMaxMessageBytes, DefaultMaxMessageBytes); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond, err = envInt(envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.SendQueueSize, err = envInt(envVarSendQueueSize, DefaultSendQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.PingInterval, err = envDuration(envVarPingInterval, DefaultPingInterval); err != nil {
		return Config{}, err
	}
	if cfg.PongTimeout, err = envDuration(envVarPongTimeout, DefaultPongTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ChatHistoryLimit, err = envInt(envVarChatHistoryLimit, DefaultChatHistoryLimit); err != nil {
		return Config{}, err
	}
	if cfg.MaxFileBytes, err = envInt64(envVarMaxFileBytes, DefaultMaxFileBytes); err != nil {
		return Config{}, err
	}
	if raw := os.Getenv(envVarSTUNServers); raw != "" {
		cfg.STUNServers = splitList(raw)
	}

	fs := flag.NewFlagSet("roomcast-server", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address (host:port)")
	logFormat := fs.String("log-format", string(cfg.LogFormat), "log format: text or json")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.LogFormat, err = parseLogFormat(*logFormat); err != nil {
		return Config{}, err
	}
	if *logLevel != "" {
		if cfg.LogLevel, err = parseLogLevel(*logLevel); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.ChatHistoryLimit <= 0 {
		return fmt.Errorf("%s must be positive", envVarChatHistoryLimit)
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxFileBytes)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%s must be positive", envVarSendQueueSize)
	}
	if c.PingInterval >= c.PongTimeout {
		return fmt.Errorf("%s must be shorter than %s", envVarPingInterval, envVarPongTimeout)
	}
	return nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	switch cfg.LogFormat {
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(raw)) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envInt64(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
