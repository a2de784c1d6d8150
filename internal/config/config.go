// Package config assembles the service configuration: built-in defaults,
// then an optional TOML file, then HEAVENSAT_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/naoina/toml"
)

// Duration is a time.Duration that reads from TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.Trim(string(b), `"'`))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn or error
}

type HTTPConfig struct {
	Addr       string `toml:"addr"`
	TrustProxy bool   `toml:"trust_proxy"`
}

type AuthConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
}

type CatalogConfig struct {
	EnableFetch     bool     `toml:"enable_fetch"`
	SourceURL       string   `toml:"source_url"`
	ExtraURLs       []string `toml:"extra_urls"`
	CacheDir        string   `toml:"cache_dir"`
	MaxFiles        int      `toml:"max_files"`
	MaxAge          Duration `toml:"max_age"`
	RefreshInterval Duration `toml:"refresh_interval"`
	File            string   `toml:"file"` // local 3LE or OMM file loaded at startup
}

type PropagationConfig struct {
	Units int `toml:"units"`
}

type DriverConfig struct {
	FrameInterval Duration `toml:"frame_interval"`
	Latitude      float64  `toml:"latitude"`
	Longitude     float64  `toml:"longitude"`
	Altitude      float64  `toml:"altitude"`
}

type StreamConfig struct {
	MaxConcurrentPerIP int      `toml:"max_concurrent_per_ip"`
	MaxConcurrent      int      `toml:"max_concurrent"`
	MaxFPS             float64  `toml:"max_fps"`
	KeepaliveInterval  Duration `toml:"keepalive_interval"`
	AllowedOrigins     []string `toml:"allowed_origins"`
}

type FontConfig struct {
	MetricsFile string `toml:"metrics_file"` // msdf-bmfont JSON; empty uses a fixed grid
}

// Config is the full service configuration.
type Config struct {
	Log         LogConfig         `toml:"log"`
	HTTP        HTTPConfig        `toml:"http"`
	Auth        AuthConfig        `toml:"auth"`
	Catalog     CatalogConfig     `toml:"catalog"`
	Propagation PropagationConfig `toml:"propagation"`
	Driver      DriverConfig      `toml:"driver"`
	Stream      StreamConfig      `toml:"stream"`
	Font        FontConfig        `toml:"font"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{Addr: ":8080"},
		Catalog: CatalogConfig{
			EnableFetch:     true,
			CacheDir:        "/tmp/heavensat/catalog",
			MaxFiles:        5,
			MaxAge:          Duration{24 * time.Hour},
			RefreshInterval: Duration{6 * time.Hour},
		},
		Propagation: PropagationConfig{Units: 3},
		Driver: DriverConfig{
			FrameInterval: Duration{100 * time.Millisecond},
		},
		Stream: StreamConfig{
			MaxConcurrentPerIP: 10,
			MaxConcurrent:      1000,
			MaxFPS:             30,
			KeepaliveInterval:  Duration{30 * time.Second},
		},
	}
}

// Load builds the configuration. path may be empty to skip the file.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg, logger)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("auth token is required when auth is enabled")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Driver.Latitude < -90 || c.Driver.Latitude > 90 {
		return fmt.Errorf("driver latitude %.4f out of [-90, 90]", c.Driver.Latitude)
	}
	if c.Driver.Longitude < -180 || c.Driver.Longitude > 180 {
		return fmt.Errorf("driver longitude %.4f out of [-180, 180]", c.Driver.Longitude)
	}
	if c.Propagation.Units < 1 {
		return fmt.Errorf("propagation units must be at least 1, got %d", c.Propagation.Units)
	}
	if c.Driver.FrameInterval.Duration <= 0 {
		return fmt.Errorf("driver frame interval must be positive")
	}
	if c.Catalog.EnableFetch && c.Catalog.RefreshInterval.Duration <= 0 {
		return fmt.Errorf("catalog refresh interval must be positive")
	}
	return nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
