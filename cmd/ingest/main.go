package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dvloznov/txn-reconciler/internal/app"
	"github.com/dvloznov/txn-reconciler/internal/config"
	"github.com/dvloznov/txn-reconciler/internal/gcsuploader"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/pipeline"
)

func main() {
	// Parse CLI flags
	configPath := flag.String("config", "", "Path to YAML config file")
	source := flag.String("source", "", "Local file path or GCS URI of the transaction file (e.g. gs://bucket/file.txt)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize structured logger
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Invalid log configuration")
	}

	if *source == "" {
		log.Fatal().Msg("Error: --source is required")
	}

	// Add logger to context. The ingestor bounds the call with ingest.timeout.
	ctx := logger.WithContext(context.Background(), log)

	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	var objects pipeline.ObjectReader
	if _, _, err := gcsuploader.ParseURI(*source); err == nil {
		gcs, err := gcsuploader.NewClient(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer gcs.Close()
		objects = gcs
	}

	log.Info().Str("source", *source).Msg("Starting ingestion")

	result, err := app.NewIngestor(st, cfg.Ingest).IngestSource(ctx, *source, objects)
	if err != nil {
		log.Error().Err(err).Msg("Ingestion failed")
		st.Close()
		os.Exit(1)
	}

	fmt.Printf("Ingestion completed: processed=%d skipped=%d rejected=%d (%s)\n",
		result.Processed, result.Skipped, result.Rejected, result.RunID)
}
