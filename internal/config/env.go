package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides cfg from HEAVENSAT_* variables. Malformed values are
// logged and ignored.
func applyEnv(cfg *Config, logger *slog.Logger) {
	envString("HEAVENSAT_LOG_LEVEL", &cfg.Log.Level)

	envString("HEAVENSAT_HTTP_ADDR", &cfg.HTTP.Addr)
	envBool(logger, "HEAVENSAT_TRUST_PROXY", &cfg.HTTP.TrustProxy)

	envBool(logger, "HEAVENSAT_AUTH_ENABLED", &cfg.Auth.Enabled)
	envString("HEAVENSAT_AUTH_TOKEN", &cfg.Auth.Token)

	envBool(logger, "HEAVENSAT_ENABLE_FETCH", &cfg.Catalog.EnableFetch)
	envString("HEAVENSAT_CATALOG_SOURCE_URL", &cfg.Catalog.SourceURL)
	envList("HEAVENSAT_CATALOG_EXTRA_URLS", &cfg.Catalog.ExtraURLs)
	envString("HEAVENSAT_CATALOG_CACHE_DIR", &cfg.Catalog.CacheDir)
	envInt(logger, "HEAVENSAT_CATALOG_MAX_FILES", &cfg.Catalog.MaxFiles)
	envSeconds(logger, "HEAVENSAT_CATALOG_MAX_AGE", &cfg.Catalog.MaxAge)
	envSeconds(logger, "HEAVENSAT_CATALOG_REFRESH_INTERVAL", &cfg.Catalog.RefreshInterval)
	envString("HEAVENSAT_CATALOG_FILE", &cfg.Catalog.File)

	envInt(logger, "HEAVENSAT_PROP_UNITS", &cfg.Propagation.Units)

	if v := os.Getenv("HEAVENSAT_FRAME_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid HEAVENSAT_FRAME_INTERVAL_MS value, using default", "value", v, "default", cfg.Driver.FrameInterval.Milliseconds())
		} else {
			cfg.Driver.FrameInterval.Duration = time.Duration(n) * time.Millisecond
		}
	}
	envFloat(logger, "HEAVENSAT_LATITUDE", &cfg.Driver.Latitude)
	envFloat(logger, "HEAVENSAT_LONGITUDE", &cfg.Driver.Longitude)
	envFloat(logger, "HEAVENSAT_ALTITUDE", &cfg.Driver.Altitude)

	envInt(logger, "HEAVENSAT_STREAM_MAX_CONCURRENT", &cfg.Stream.MaxConcurrentPerIP)
	envInt(logger, "HEAVENSAT_STREAM_MAX_TOTAL", &cfg.Stream.MaxConcurrent)
	envFloat(logger, "HEAVENSAT_STREAM_MAX_FPS", &cfg.Stream.MaxFPS)
	envSeconds(logger, "HEAVENSAT_STREAM_KEEPALIVE_INTERVAL", &cfg.Stream.KeepaliveInterval)
	envList("HEAVENSAT_STREAM_ALLOWED_ORIGINS", &cfg.Stream.AllowedOrigins)

	envString("HEAVENSAT_FONT_METRICS", &cfg.Font.MetricsFile)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envBool(logger *slog.Logger, name string, dst *bool) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = b
}

// envInt accepts positive integers only.
func envInt(logger *slog.Logger, name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func envFloat(logger *slog.Logger, name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = f
}

// envSeconds reads a whole number of seconds.
func envSeconds(logger *slog.Logger, name string, dst *Duration) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", int(dst.Seconds()))
		return
	}
	dst.Duration = time.Duration(n) * time.Second
}

// envList reads a comma-separated list, dropping empty entries.
func envList(name string, dst *[]string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}
