package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextconvert/silk2mp3/internal/api"
	"github.com/nextconvert/silk2mp3/internal/api/websocket"
	"github.com/nextconvert/silk2mp3/internal/modules/batch"
	"github.com/nextconvert/silk2mp3/internal/modules/cleanup"
	"github.com/nextconvert/silk2mp3/internal/modules/convert"
	"github.com/nextconvert/silk2mp3/internal/modules/jobs"
	"github.com/nextconvert/silk2mp3/internal/modules/merge"
	"github.com/nextconvert/silk2mp3/internal/shared/config"
	"github.com/nextconvert/silk2mp3/internal/shared/database"
	"github.com/nextconvert/silk2mp3/internal/shared/logging"
	"github.com/nextconvert/silk2mp3/internal/shared/metrics"
	"github.com/nextconvert/silk2mp3/internal/shared/storage"
	"github.com/nextconvert/silk2mp3/internal/shared/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting SILK to MP3 conversion server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Environment),
	)

	// Initialize storage
	storageService, err := storage.NewService(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Optional Redis for rate limiting
	var redisClient *database.Redis
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
	} else {
		logger.Info("REDIS_URL not set, rate limiting disabled")
	}

	// External tools
	locator := tools.NewLocator(cfg.Tools.Dir, map[string]string{
		tools.ToolFFmpeg:      cfg.Tools.FFmpegPath,
		tools.ToolSilkDecoder: cfg.Tools.SilkDecoderPath,
		tools.ToolSilk2Mp3:    cfg.Tools.Silk2Mp3Path,
	}, logger)
	for _, res := range locator.Report() {
		logger.Info("External tool",
			zap.String("tool", res.Tool),
			zap.String("path", res.Path),
			zap.String("source", string(res.Source)),
			zap.Bool("found", res.Found),
		)
	}
	runner := tools.NewRunner(cfg.CommandTimeout, logger)

	// Conversion pipeline
	chain := convert.NewChain(convert.DefaultStrategies(convert.Toolbox{
		Exec:     runner,
		Resolver: locator,
		Timeout:  cfg.CommandTimeout,
		Logger:   logger,
	}, convert.SilkDecoder{}), m, logger)
	merger := merge.NewEngine(runner, locator, cfg.CommandTimeout, m, logger)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(api.CheckOrigin(cfg.AllowedOrigins), m, logger)
	go wsHub.Run()
	defer wsHub.Stop()

	jobsModule := jobs.NewModule(jobs.Config{
		Storage:   storageService,
		Converter: chain,
		Merger:    merger,
		Sequencer: batch.NewSequencer(),
		Notifier:  wsHub,
		Workers:   cfg.ConvertWorkers,
		Metrics:   m,
		Logger:    logger,
	})

	// Start the cleanup sweeper
	sweeper := cleanup.NewSweeper(storageService.Dirs(), cfg.CleanupInterval, cfg.CleanupRetention, m, logger)
	if err := sweeper.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start cleanup sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	// Create API server
	server := api.NewServer(api.ServerConfig{
		Config:     cfg,
		Logger:     logger,
		Redis:      redisClient,
		Storage:    storageService,
		WSHub:      wsHub,
		Jobs:       jobsModule,
		Tools:      locator,
		Strategies: chain,
		Metrics:    m,
		Gatherer:   registry,
	})

	// Conversions run inside the request, so the write timeout must outlast
	// every strategy and the merge for a full batch.
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.RequestLifetime(),
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
