package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/atlasmap-sc/spotview/internal/api"
	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/config"
	"github.com/atlasmap-sc/spotview/internal/dataset"
	"github.com/atlasmap-sc/spotview/internal/render"
	"github.com/atlasmap-sc/spotview/internal/selstore"
	"github.com/atlasmap-sc/spotview/internal/service"
	"github.com/atlasmap-sc/spotview/pkg/colormap"
)

func handleServeCommand(c *cli.Context) error {
	// Load configuration
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Printf("[Server] Starting spotview on port %d", cfg.Server.Port)

	engineCfg, mode, err := engineOptions(cfg.View)
	if err != nil {
		return fmt.Errorf("invalid view configuration: %w", err)
	}
	background, err := colormap.ParseHex(cfg.Render.Background)
	if err != nil {
		return fmt.Errorf("invalid render background: %w", err)
	}

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: cfg.Cache.FrameSizeMB,
		FrameTTL:         time.Duration(cfg.Cache.FrameTTLMinutes) * time.Minute,
		SummaryCacheSize: cfg.Cache.SummaryEntries,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	// Initialize frame renderer (shared across all datasets)
	frameRenderer := render.NewFrameRenderer(render.Config{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		DefaultColormap: cfg.Render.DefaultColormap,
		Background:      background,
	})

	reader, err := dataset.NewReader()
	if err != nil {
		return err
	}
	defer reader.Close()

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, "")
	defer registry.Close()

	log.Printf("[Server] Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	for _, datasetID := range datasetIDs {
		dc := cfg.Data.Datasets[datasetID]

		ds, err := reader.Load(dc.Path)
		if err != nil {
			return fmt.Errorf("failed to load dataset %q: %w", datasetID, err)
		}
		if dc.Name != "" {
			ds.Name = dc.Name
		}
		if dc.Image != "" {
			ds.Image = dc.Image
		}

		svc, err := service.NewViewService(service.ViewServiceConfig{
			DatasetID: datasetID,
			Dataset:   ds,
			Cache:     cacheManager,
			Renderer:  frameRenderer,
			Engine:    engineCfg,
			Mode:      mode,
			SelectAll: cfg.View.SelectAll,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize dataset %q: %w", datasetID, err)
		}
		registry.Register(datasetID, svc)

		stats := ds.HitStats()
		log.Printf("  [%s] Loaded from: %s", datasetID, dc.Path)
		log.Printf("    Genes: %d, Features: %d, Hits: %d..%d", len(ds.Genes), len(ds.Features), stats.Min, stats.Max)
		if ds.Image != "" {
			log.Printf("    Image: %s", ds.Image)
		}
	}

	// Saved selections (SQLite persistence)
	store, err := selstore.NewStore(cfg.Selections.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open selection store: %w", err)
	}
	defer store.Close()
	log.Printf("[Server] Saved selections: sqlite=%s", cfg.Selections.DBPath)

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Cache:       cacheManager,
		Selections:  store,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("[Server] Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Forced to shutdown: %v", err)
	}

	log.Println("[Server] Stopped")
	return nil
}
