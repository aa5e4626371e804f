package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Type != "bolt" {
		t.Errorf("storage.type = %q, want bolt", cfg.Storage.Type)
	}
	if cfg.Server.BridgePort != 7117 {
		t.Errorf("server.bridge_port = %d, want 7117", cfg.Server.BridgePort)
	}
	if cfg.Tracking.MaxWriteFailures != 3 {
		t.Errorf("tracking.max_write_failures = %d, want 3", cfg.Tracking.MaxWriteFailures)
	}
	if got := ParseDuration(cfg.Tracking.SyncInterval, 0); got != time.Second {
		t.Errorf("tracking.sync_interval = %v, want 1s", got)
	}
	if cfg.Retention.Days != 90 {
		t.Errorf("retention.days = %d, want 90", cfg.Retention.Days)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  type: redis
  redis:
    host: redis.internal
    port: 6380
tracking:
  sync_interval: 3s
watchlist:
  initial:
    - youtube.com
    - news.ycombinator.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Type != "redis" {
		t.Errorf("storage.type = %q, want redis", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.Host != "redis.internal" || cfg.Storage.Redis.Port != 6380 {
		t.Errorf("redis = %s:%d, want redis.internal:6380", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	}
	if cfg.Tracking.SyncInterval != "3s" {
		t.Errorf("tracking.sync_interval = %q, want 3s", cfg.Tracking.SyncInterval)
	}
	if len(cfg.Watchlist.Initial) != 2 {
		t.Errorf("watchlist.initial = %v, want 2 entries", cfg.Watchlist.Initial)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DWELL_LOGGING_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown storage type", "storage:\n  type: cassandra\n"},
		{"bad sync interval", "tracking:\n  sync_interval: soon\n"},
		{"zero write failures", "tracking:\n  max_write_failures: 0\n"},
		{"bad prune time", "retention:\n  prune_time: \"25:99\"\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad bridge port", "server:\n  bridge_port: 70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Errorf("Load() expected error for %s", tt.name)
			}
		})
	}
}

func TestParseDuration_Fallback(t *testing.T) {
	if got := ParseDuration("nope", 5*time.Second); got != 5*time.Second {
		t.Errorf("ParseDuration() = %v, want fallback 5s", got)
	}
	if got := ParseDuration("250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("ParseDuration() = %v, want 250ms", got)
	}
}
