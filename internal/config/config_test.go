package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jamlink.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeTempConfig(t, `{"server": {"addr": ":8080"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected addr :8080, got %q", cfg.Server.Addr)
	}
	// Defaults.
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected default driver sqlite, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN != "jamlink.db" {
		t.Errorf("expected default dsn jamlink.db, got %q", cfg.Storage.DSN)
	}
	if cfg.Storage.Retention.Duration != 30*24*time.Hour {
		t.Errorf("expected default retention 720h, got %v", cfg.Storage.Retention.Duration)
	}
	if cfg.Session.MaxMessageBytes != 1024*1024 {
		t.Errorf("expected default max_message_bytes 1MB, got %d", cfg.Session.MaxMessageBytes)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected default logging info/json, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("expected default allowed_origins [*], got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("expected default rate limit 10/20, got %v/%v", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
}

func TestLoad_Full(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {
			"addr": ":9443",
			"tls_cert": "cert.pem",
			"tls_key": "key.pem",
			"allowed_origins": ["https://app.example.com"]
		},
		"storage": {"driver": "postgres", "dsn": "postgres://localhost/jamlink", "retention": "72h"},
		"session": {"max_message_bytes": 4194304},
		"logging": {"level": "debug", "format": "text"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("expected driver postgres, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Retention.Duration != 72*time.Hour {
		t.Errorf("expected retention 72h, got %v", cfg.Storage.Retention.Duration)
	}
	if cfg.Session.MaxMessageBytes != 4194304 {
		t.Errorf("expected max_message_bytes 4194304, got %d", cfg.Session.MaxMessageBytes)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected allowed_origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_DurationAsSeconds(t *testing.T) {
	path := writeTempConfig(t, `{
		"server": {"addr": ":8080"},
		"storage": {"retention": 3600}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Retention.Duration != time.Hour {
		t.Errorf("expected retention 1h from numeric seconds, got %v", cfg.Storage.Retention.Duration)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing addr", `{"server": {}}`},
		{"bad json", `{not json`},
		{"tls cert without key", `{"server": {"addr": ":8080", "tls_cert": "cert.pem"}}`},
		{"unknown driver", `{"server": {"addr": ":8080"}, "storage": {"driver": "mysql"}}`},
		{"bad duration", `{"server": {"addr": ":8080"}, "storage": {"retention": "soon"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
