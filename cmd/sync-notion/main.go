package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-reconciler/internal/app"
	"github.com/dvloznov/txn-reconciler/internal/config"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/notionsync"
	"github.com/dvloznov/txn-reconciler/internal/output"
)

func main() {
	// Parse CLI flags
	configPath := flag.String("config", "", "Path to YAML config file")
	startDateStr := flag.String("start-date", "", "Start date in YYYY-MM-DD format")
	endDateStr := flag.String("end-date", "", "End date in YYYY-MM-DD format")
	clientName := flag.String("client", "", "Only export transactions whose client name contains this text")
	notionToken := flag.String("notion-token", "", "Notion API token (defaults to notion.token)")
	notionDBID := flag.String("notion-db-id", "", "Notion database ID (defaults to notion.database_id)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Invalid log configuration")
	}

	if *notionToken == "" {
		*notionToken = cfg.Notion.Token
	}
	if *notionDBID == "" {
		*notionDBID = cfg.Notion.DatabaseID
	}
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	opts := notionsync.Options{
		DatabaseID: *notionDBID,
		ClientName: *clientName,
		DryRun:     *dryRun,
	}
	if opts.StartDate, err = parseDate(*startDateStr); err != nil {
		log.Fatal().Err(err).Str("start_date", *startDateStr).Msg("Error: invalid start-date format, expected YYYY-MM-DD")
	}
	if opts.EndDate, err = parseDate(*endDateStr); err != nil {
		log.Fatal().Err(err).Str("end_date", *endDateStr).Msg("Error: invalid end-date format, expected YYYY-MM-DD")
	}
	if opts.StartDate.IsValid() && opts.EndDate.IsValid() && opts.EndDate.Before(opts.StartDate) {
		log.Fatal().
			Str("start_date", opts.StartDate.String()).
			Str("end_date", opts.EndDate.String()).
			Msg("Error: end-date must be after start-date")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("start_date", *startDateStr).
		Str("end_date", *endDateStr).
		Str("client", *clientName).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	notionClient := notionsync.NewNotionClient(*notionToken)

	res, err := notionsync.SyncTransactions(ctx, st, notionClient, opts)
	if err != nil {
		log.Error().Err(err).Msg("Sync failed")
		os.Exit(1)
	}

	p := output.New(os.Stdout)
	p.Header("Notion Sync")
	p.Info(fmt.Sprintf("Created: %d", res.Created))
	p.Info(fmt.Sprintf("Skipped: %d", res.Skipped))
	if res.Failed > 0 {
		p.Warning(fmt.Sprintf("Failed: %d", res.Failed))
		os.Exit(1)
	}
	p.Success("Sync completed successfully.")
}

// parseDate accepts an empty string as an open bound.
func parseDate(s string) (civil.Date, error) {
	if s == "" {
		return civil.Date{}, nil
	}
	return civil.ParseDate(s)
}
