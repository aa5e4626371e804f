package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goodtune/dwell/internal/config"
	"github.com/rs/zerolog"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  bridge_port: 7200
  brigde_port: 7300
tracking:
  sync_interval: 2s
  sync_intervall: 3s
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys() error = %v", err)
	}

	want := []string{"server.brigde_port", "tracking.sync_intervall"}
	if strings.Join(unknown, ",") != strings.Join(want, ",") {
		t.Errorf("findUnknownKeys() = %v, want %v", unknown, want)
	}
}

func TestDumpConfig_HighlightsModified(t *testing.T) {
	defaults := config.Defaults()
	cfg := config.Defaults()
	cfg.Server.BridgePort = 7200
	cfg.Storage.Redis.Password = "hunter2"

	var buf bytes.Buffer
	dumpConfig(&buf, cfg, defaults)
	out := buf.String()

	if !strings.Contains(out, "bridge_port = 7200  (modified from default: 7117)") {
		t.Errorf("modified bridge_port not highlighted:\n%s", out)
	}
	if !strings.Contains(out, "metrics_port = 9117\n") {
		t.Errorf("default metrics_port missing:\n%s", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Error("password leaked into dump")
	}
	if !strings.Contains(out, "***REDACTED***") {
		t.Error("password not redacted")
	}
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{"memory", config.StorageConfig{Type: "memory"}, false},
		{"bolt", config.StorageConfig{Type: "bolt", Path: filepath.Join(dir, "dwell.bolt")}, false},
		{"sqlite", config.StorageConfig{Type: "sqlite", Path: filepath.Join(dir, "dwell.db")}, false},
		{"unsupported", config.StorageConfig{Type: "cassandra"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openStorage(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("openStorage() error = %v", err)
			}
			if store.Ledger() == nil || store.Watchlist() == nil {
				t.Error("store missing ledger or watchlist")
			}
			if err := store.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}
		})
	}
}

func TestSetupLogger_Level(t *testing.T) {
	_ = setupLogger(config.LoggingConfig{Level: "warn", Format: "text"})
	defer setupLogger(config.LoggingConfig{Level: "info"})

	if got := zerolog.GlobalLevel(); got != zerolog.WarnLevel {
		t.Errorf("global level = %s, want warn", got)
	}
}
