package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/1valdis/heavensat-web/internal/api"
	"github.com/1valdis/heavensat-web/internal/auth"
	"github.com/1valdis/heavensat-web/internal/catalog"
	"github.com/1valdis/heavensat-web/internal/config"
	"github.com/1valdis/heavensat-web/internal/driver"
	"github.com/1valdis/heavensat-web/internal/metrics"
	"github.com/1valdis/heavensat-web/internal/propagation"
	"github.com/1valdis/heavensat-web/internal/stream"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and frame driver",
	Long: `Load the catalog (from --config's catalog.file, the disk cache or the
network), start the propagation units and serve the API until SIGINT or
SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Configuration problems are reported before the JSON logger exists.
	bootLogger, err := newLogger("info")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath, bootLogger)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	font, err := loadFont(cfg.Font.MetricsFile)
	if err != nil {
		return fmt.Errorf("loading font metrics: %w", err)
	}

	store := catalog.NewStore()
	var fetcher *catalog.Fetcher
	if cfg.Catalog.EnableFetch {
		fetcher = catalog.NewFetcher(cfg.Catalog.SourceURL, logger, cfg.Catalog.ExtraURLs...)
	}
	loader := catalog.NewLoader(store, fetcher, catalog.NewCache(cfg.Catalog.CacheDir, cfg.Catalog.MaxFiles), logger)

	if cfg.Catalog.File != "" {
		if _, err := loader.LoadFile(cfg.Catalog.File); err != nil {
			return fmt.Errorf("loading catalog file: %w", err)
		}
	} else if err := loader.LoadCache(); err != nil {
		logger.Info("no catalog cache found, starting without catalog data", "error", err)
	}

	drv := driver.New(store, driver.Config{
		FrameInterval: cfg.Driver.FrameInterval.Duration,
		Units:         cfg.Propagation.Units,
		Font:          font,
		Location: propagation.Location{
			Latitude:  cfg.Driver.Latitude,
			Longitude: cfg.Driver.Longitude,
			Altitude:  cfg.Driver.Altitude,
		},
	}, nil, logger)

	streamHandler := stream.NewHandler(drv, store, stream.Config{
		MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
		MaxConcurrent:      cfg.Stream.MaxConcurrent,
		MaxFPS:             cfg.Stream.MaxFPS,
		KeepaliveInterval:  cfg.Stream.KeepaliveInterval.Duration,
		TrustProxy:         cfg.HTTP.TrustProxy,
		AllowedOrigins:     cfg.Stream.AllowedOrigins,
	}, logger)

	deps := api.Deps{Store: store, Driver: drv, Stream: streamHandler}
	if fetcher != nil {
		deps.Loader = loader
	}
	if cfg.Auth.Enabled {
		logger.Info("auth enabled")
	}
	srv := api.NewServer(cfg.HTTP.Addr, logger, auth.Config{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token}, deps)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if fetcher != nil {
		go loader.Run(ctx, cfg.Catalog.RefreshInterval.Duration, cfg.Catalog.MaxAge.Duration)
	}

	driverDone := make(chan struct{})
	go func() {
		drv.Run(ctx)
		close(driverDone)
	}()

	// Background goroutine to update the catalog age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetCatalogAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTP.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"catalog_fetch_enabled", cfg.Catalog.EnableFetch,
			"units", cfg.Propagation.Units,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		stop()
		<-driverDone
		return fmt.Errorf("server listen error: %w", err)
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	<-driverDone

	logger.Info("server stopped")
	return nil
}
