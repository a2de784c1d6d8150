package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heavensat.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
[http]
addr = ":9090"

[catalog]
enable_fetch = false
extra_urls = ["https://example.com/a", "https://example.com/b"]
max_age = "12h"

[driver]
frame_interval = "250ms"
latitude = 56.95
longitude = 24.1

[stream]
max_fps = 15.0
keepalive_interval = "10s"
`)
	cfg, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("http.addr = %q, want :9090", cfg.HTTP.Addr)
	}
	if cfg.Catalog.EnableFetch {
		t.Error("catalog.enable_fetch should be false")
	}
	if len(cfg.Catalog.ExtraURLs) != 2 {
		t.Errorf("catalog.extra_urls = %v", cfg.Catalog.ExtraURLs)
	}
	if cfg.Catalog.MaxAge.Duration != 12*time.Hour {
		t.Errorf("catalog.max_age = %v, want 12h", cfg.Catalog.MaxAge)
	}
	if cfg.Driver.FrameInterval.Duration != 250*time.Millisecond {
		t.Errorf("driver.frame_interval = %v, want 250ms", cfg.Driver.FrameInterval)
	}
	if cfg.Driver.Latitude != 56.95 || cfg.Driver.Longitude != 24.1 {
		t.Errorf("driver location = %v, %v", cfg.Driver.Latitude, cfg.Driver.Longitude)
	}
	if cfg.Stream.MaxFPS != 15 || cfg.Stream.KeepaliveInterval.Duration != 10*time.Second {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	// Untouched sections keep their defaults.
	if cfg.Propagation.Units != 3 || cfg.Stream.MaxConcurrentPerIP != 10 {
		t.Errorf("defaults lost: units %d, max_concurrent_per_ip %d", cfg.Propagation.Units, cfg.Stream.MaxConcurrentPerIP)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml"), testLogger()); err == nil {
		t.Error("missing file: expected error")
	}
	if _, err := Load(writeFile(t, "[driver]\nframe_interval = \"soon\"\n"), testLogger()); err == nil {
		t.Error("bad duration: expected error")
	}
	if _, err := Load(writeFile(t, "[driver]\nlatitude = 95.0\n"), testLogger()); err == nil {
		t.Error("latitude out of range: expected error")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "[http]\naddr = \":9090\"\n")
	t.Setenv("HEAVENSAT_HTTP_ADDR", ":7070")
	t.Setenv("HEAVENSAT_PROP_UNITS", "8")
	t.Setenv("HEAVENSAT_FRAME_INTERVAL_MS", "50")
	t.Setenv("HEAVENSAT_CATALOG_EXTRA_URLS", " https://a.example , ,https://b.example")
	t.Setenv("HEAVENSAT_STREAM_KEEPALIVE_INTERVAL", "15")
	t.Setenv("HEAVENSAT_LATITUDE", "-33.9")

	cfg, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Errorf("env must win over file: addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Propagation.Units != 8 {
		t.Errorf("units = %d, want 8", cfg.Propagation.Units)
	}
	if cfg.Driver.FrameInterval.Duration != 50*time.Millisecond {
		t.Errorf("frame interval = %v, want 50ms", cfg.Driver.FrameInterval)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.Catalog.ExtraURLs, want) {
		t.Errorf("extra urls = %v, want %v", cfg.Catalog.ExtraURLs, want)
	}
	if cfg.Stream.KeepaliveInterval.Duration != 15*time.Second {
		t.Errorf("keepalive = %v, want 15s", cfg.Stream.KeepaliveInterval)
	}
	if cfg.Driver.Latitude != -33.9 {
		t.Errorf("latitude = %v, want -33.9", cfg.Driver.Latitude)
	}
}

func TestEnvInvalidKeepsDefault(t *testing.T) {
	t.Setenv("HEAVENSAT_PROP_UNITS", "zero")
	t.Setenv("HEAVENSAT_ENABLE_FETCH", "maybe")
	t.Setenv("HEAVENSAT_CATALOG_MAX_AGE", "-5")

	cfg, err := Load("", testLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Propagation.Units != def.Propagation.Units {
		t.Errorf("units = %d, want default %d", cfg.Propagation.Units, def.Propagation.Units)
	}
	if cfg.Catalog.EnableFetch != def.Catalog.EnableFetch {
		t.Error("enable_fetch changed by invalid value")
	}
	if cfg.Catalog.MaxAge != def.Catalog.MaxAge {
		t.Errorf("max_age = %v, want default", cfg.Catalog.MaxAge)
	}
}

func TestAuthRequiresToken(t *testing.T) {
	t.Setenv("HEAVENSAT_AUTH_ENABLED", "true")
	if _, err := Load("", testLogger()); err == nil {
		t.Fatal("expected error for auth without token")
	}
	t.Setenv("HEAVENSAT_AUTH_TOKEN", "secret")
	if _, err := Load("", testLogger()); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
