package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "tcp" {
		t.Fatalf("transport = %q", cfg.Transport)
	}
	if cfg.FlushInterval != 60*time.Second {
		t.Fatalf("flush interval = %s", cfg.FlushInterval)
	}
	if cfg.ReadTimeout != 5*time.Second || cfg.ReconnectDelay != 2*time.Second {
		t.Fatalf("timeouts = %s / %s", cfg.ReadTimeout, cfg.ReconnectDelay)
	}
	if cfg.StatsEvery != 100 || cfg.DialAttempts != 5 {
		t.Fatalf("stats every = %d, dial attempts = %d", cfg.StatsEvery, cfg.DialAttempts)
	}
	if cfg.SQLitePath != "" || cfg.HTTPAddr != "" || cfg.Overwrite {
		t.Fatalf("optional features should be off by default: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATDUMP_TRANSPORT", " WebSocket ")
	t.Setenv("CHATDUMP_WS_URL", "ws://127.0.0.1:9000")
	t.Setenv("CHATDUMP_NICK", " justinfan42 ")
	t.Setenv("CHATDUMP_PASS", "oauth:abc")
	t.Setenv("CHATDUMP_FLUSH_INTERVAL", "90s")
	t.Setenv("CHATDUMP_SQLITE_PATH", "/data/archive.db")
	t.Setenv("CHATDUMP_OVERWRITE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "websocket" || cfg.Endpoint() != "ws://127.0.0.1:9000" {
		t.Fatalf("transport = %q endpoint = %q", cfg.Transport, cfg.Endpoint())
	}
	if cfg.Nick != "justinfan42" {
		t.Fatalf("nick = %q", cfg.Nick)
	}
	if cfg.FlushInterval != 90*time.Second || !cfg.Overwrite {
		t.Fatalf("cfg = %+v", cfg)
	}

	summary := cfg.Summary()
	if summary.Pass == "oauth:abc" || !strings.HasPrefix(summary.Pass, "***REDACTED***") {
		t.Fatalf("pass not redacted: %q", summary.Pass)
	}
	if strings.Contains(string(cfg.SummaryJSON()), "oauth:abc") {
		t.Fatalf("summary json leaks secret: %s", cfg.SummaryJSON())
	}
	data, err := json.Marshal(cfg.Redacted())
	if err != nil {
		t.Fatalf("marshal redacted: %v", err)
	}
	if strings.Contains(string(data), "oauth:abc") {
		t.Fatalf("redacted view leaks secret: %s", data)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CHATDUMP_TRANSPORT":      "carrier-pigeon",
		"CHATDUMP_FLUSH_INTERVAL": "0s",
		"CHATDUMP_READ_TIMEOUT":   "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("CHATDUMP_CHANNEL_ID=424242\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("CHATDUMP_CHANNEL_ID")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChannelID != "424242" {
		t.Fatalf("channel id = %q", cfg.ChannelID)
	}
}
