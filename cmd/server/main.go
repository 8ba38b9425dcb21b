// Package main is the entry point for the LumaBridge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumabridge/lumabridge/internal/api"
	"github.com/lumabridge/lumabridge/internal/auth"
	"github.com/lumabridge/lumabridge/internal/config"
	"github.com/lumabridge/lumabridge/internal/dispatch"
	"github.com/lumabridge/lumabridge/internal/filebed"
	"github.com/lumabridge/lumabridge/internal/geo"
	"github.com/lumabridge/lumabridge/internal/hub"
	"github.com/lumabridge/lumabridge/internal/images"
	"github.com/lumabridge/lumabridge/internal/metrics"
	"github.com/lumabridge/lumabridge/internal/monitor"
	"github.com/lumabridge/lumabridge/internal/parser"
	"github.com/lumabridge/lumabridge/internal/registry"
	"github.com/lumabridge/lumabridge/internal/translator"
)

const eventQueueCapacity = 256

func main() {
	configPath := flag.String("config", "config.jsonc", "path to the main configuration file")
	modelPath := flag.String("models", "models.json", "path to the model map file")
	endpointPath := flag.String("endpoints", "model_endpoint_map.json", "path to the model endpoint map file")
	imageDir := flag.String("image-dir", "downloaded_images", "directory for locally saved images")
	port := flag.Int("port", 5102, "listen port")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting LumaBridge", "version", "1.0.0")

	manager, err := config.NewManager(*configPath, *modelPath, *endpointPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	reg := registry.New(eventQueueCapacity)
	peerHub := hub.New(reg, logger)
	uploader := filebed.New(manager.Get, logger)
	pipeline := images.NewPipeline(manager.Get, *imageDir, logger)
	tr := translator.New(manager.Get, uploader, logger)
	dispatcher := dispatch.New(manager, reg, peerHub, tr, logger)
	streamParser := parser.New(manager.Get, pipeline, peerHub, logger)

	collector := metrics.NewCollector()
	peerHub.OnConnect(collector.RecordPeerConnect)
	peerHub.OnDisconnect(collector.RecordPeerDisconnect)

	// the download semaphore tracks max_concurrent_downloads across reloads
	manager.OnChange(func(cfg *config.Config) {
		pipeline.Semaphore().Resize(cfg.MaxConcurrentDownloads)
	})

	housekeeper := monitor.New(manager.Get, reg, pipeline, uploader, collector, logger)
	housekeeper.Start(ctx)
	defer housekeeper.Stop()

	tokens := auth.NewStaticService(os.Getenv("LUMABRIDGE_API_KEY"))
	handler := api.NewHandler(manager, dispatcher, streamParser, peerHub, tokens, geo.NewStatic(), housekeeper, collector, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// WriteTimeout stays zero: SSE relays legitimately run for minutes.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     mux,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	manager.Close()
	logger.Info("server stopped")
}
