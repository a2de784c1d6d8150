package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/1valdis/heavensat-web/internal/config"
	"github.com/1valdis/heavensat-web/internal/glyph"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "heavensat",
	Short: "Satellite sky propagation service",
	Long: `heavensat propagates a satellite catalog with SGP4 for an observer on the
ground and serves render-ready buffers of the visible sky over HTTP and
WebSocket.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")
	rootCmd.AddCommand(serveCmd, snapshotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the JSON logger used by every command.
func newLogger(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

// loadFont reads the font metrics file, or returns nil for the built-in grid.
func loadFont(path string) (*glyph.Metrics, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return glyph.LoadMetrics(f)
}

func defaultFont() *glyph.Metrics {
	return glyph.GridMetrics(32, 32, 16)
}
