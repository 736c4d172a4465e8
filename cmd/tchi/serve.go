package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/tchi-pipeline/internal/adapter/http"
	"github.com/couchcryptid/tchi-pipeline/internal/adapter/mapbox"
	redisadapter "github.com/couchcryptid/tchi-pipeline/internal/adapter/redis"
	"github.com/couchcryptid/tchi-pipeline/internal/config"
	"github.com/couchcryptid/tchi-pipeline/internal/observability"
	"github.com/couchcryptid/tchi-pipeline/internal/query"
	"github.com/couchcryptid/tchi-pipeline/internal/raster"
	"github.com/couchcryptid/tchi-pipeline/internal/tile"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve point, hotspot and tile queries over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	layout := layoutFrom(cfg)
	loader := raster.NewCachedLoader(raster.FileLoader{}, cfg.GridCacheSize)
	loader.OnLookup = metrics.CacheObserver("grid")

	hotspotOpts := query.HotspotOptions{
		DefaultCount:    cfg.HotspotCount,
		MinSeparationKm: cfg.HotspotMinSeparationKm,
		NamedCount:      cfg.HotspotNamed,
	}

	// Hotspot naming is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, cfg.MapboxCacheTTL, metrics)
		hotspotOpts.Namer = query.NewNamer(geocoder, logger)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	if rc := redisadapter.NewClient(cfg); rc != nil {
		defer logClose(logger, "redis", rc.Close)
		hotspotOpts.Cache = redisadapter.NewHotspotCache(rc, cfg.HotspotCacheTTL)
		logger.Info("hotspot cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.HotspotCacheTTL)
	}

	points := query.NewPointService(layout, loader, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Services{
		Ready:    points,
		Points:   points,
		Dates:    points,
		Hotspots: query.NewHotspotService(layout, loader, hotspotOpts, logger, metrics),
		Tiles: tile.NewRenderer(layout, loader, tile.Options{
			TempDir:  cfg.TempDir,
			CacheDir: cfg.TileCacheDir,
		}, logger, metrics),
	}, logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}
