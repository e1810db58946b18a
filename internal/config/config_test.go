package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ChatHistoryLimit != 100 {
		t.Fatalf("ChatHistoryLimit = %d, want 100", cfg.ChatHistoryLimit)
	}
	if cfg.MaxFileBytes != 10<<20 {
		t.Fatalf("MaxFileBytes = %d, want 10 MiB", cfg.MaxFileBytes)
	}
	if cfg.LogFormat != LogFormatText || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("log defaults = %v/%v", cfg.LogFormat, cfg.LogLevel)
	}
	if len(cfg.STUNServers) == 0 {
		t.Fatalf("expected default STUN servers")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(envVarListenAddr, "0.0.0.0:9100")
	t.Setenv(envVarChatHistoryLimit, "7")
	t.Setenv(envVarMaxFileBytes, "1024")
	t.Setenv(envVarShutdownTimeout, "3s")
	t.Setenv(envVarSTUNServers, "stun:a:1, stun:b:2")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9100" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ChatHistoryLimit != 7 || cfg.MaxFileBytes != 1024 {
		t.Fatalf("limits = %d/%d", cfg.ChatHistoryLimit, cfg.MaxFileBytes)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[1] != "stun:b:2" {
		t.Fatalf("STUNServers = %v", cfg.STUNServers)
	}
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	t.Setenv(envVarListenAddr, "127.0.0.1:1111")

	cfg, err := Load([]string{"-listen", "127.0.0.1:2222", "-log-format", "json", "-log-level", "debug"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:2222" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogFormat != LogFormatJSON || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log config = %v/%v", cfg.LogFormat, cfg.LogLevel)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad history limit", envVarChatHistoryLimit, "zero"},
		{"negative history limit", envVarChatHistoryLimit, "-1"},
		{"bad file limit", envVarMaxFileBytes, "0"},
		{"bad duration", envVarShutdownTimeout, "soon"},
		{"bad level", envVarLogLevel, "loud"},
		{"bad format", envVarLogFormat, "xml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(nil); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
