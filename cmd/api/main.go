package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/api/handlers"
	"github.com/dvloznov/txn-reconciler/internal/api/middleware"
	"github.com/dvloznov/txn-reconciler/internal/app"
	"github.com/dvloznov/txn-reconciler/internal/config"
	"github.com/dvloznov/txn-reconciler/internal/gcsuploader"
	"github.com/dvloznov/txn-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/pipeline"
	"github.com/dvloznov/txn-reconciler/internal/stats"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to YAML config file (or set "+config.EnvConfigPath+")")
		port       = flag.Int("port", 0, "HTTP server port (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Initialize logger
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Invalid log configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open store")
	}
	defer st.Close()

	// Storage is optional: without a bucket uploads are not archived and
	// gs:// ingestion jobs fail.
	var (
		archiver handlers.Archiver
		objects  pipeline.ObjectReader
	)
	if cfg.GCS.Bucket != "" {
		gcs, err := gcsuploader.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer gcs.Close()
		archiver, objects = gcs, gcs
	} else {
		log.Warn().Msg("No GCS bucket configured - uploads will not be archived")
	}

	ingestor := app.NewIngestor(st, cfg.Ingest)

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.BufferSize, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithMaxRetries(cfg.Jobs.MaxRetries),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if cfg.Jobs.Retention > 0 {
		go jobStore.PruneEvery(workerCtx, time.Minute, cfg.Jobs.Retention)
	}

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, app.IngestJobHandler(ingestor, objects)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	// Initialize handlers
	mux := http.NewServeMux()
	handlers.Register(mux,
		handlers.NewTransactionsHandler(ingestor, st, stats.NewAggregator(st), archiver, handlers.UploadOptions{
			MaxBytes: cfg.Server.MaxUploadBytes,
			Bucket:   cfg.GCS.Bucket,
			Prefix:   cfg.GCS.Prefix,
		}),
		handlers.NewIngestionsHandler(jobQueue, st),
		handlers.NewJobsHandler(jobStore),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      middleware.Chain(mux, log, cfg.Server.CORSOrigin),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.Store.Driver).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
