package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dvloznov/txn-reconciler/internal/app"
	"github.com/dvloznov/txn-reconciler/internal/config"
	infraBQ "github.com/dvloznov/txn-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/txn-reconciler/internal/logger"
	"github.com/dvloznov/txn-reconciler/internal/migrate"
	"github.com/dvloznov/txn-reconciler/internal/store/sqlite"
)

var (
	configPath    = flag.String("config", "", "Path to YAML config file")
	driver        = flag.String("driver", "", "Target store: bigquery or sqlite (defaults to store.driver)")
	projectID     = flag.String("project", "", "GCP project ID (defaults to store.project_id)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (defaults to store.dataset)")
	dsn           = flag.String("dsn", "", "SQLite database path (defaults to store.dsn)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "migrations/bigquery", "Path to BigQuery migrations directory")
)

func main() {
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
	ctx := logger.WithContext(context.Background(), log)

	target := cfg.Store
	override(&target.Driver, *driver)
	override(&target.ProjectID, *projectID)
	override(&target.Dataset, *datasetID)
	override(&target.DSN, *dsn)

	var count int
	switch strings.ToLower(target.Driver) {
	case config.DriverBigQuery:
		if target.ProjectID == "" || target.Dataset == "" {
			log.Fatal().Msg("Error: -project and -dataset are required for BigQuery")
		}
		log.Info().Str("project", target.ProjectID).Str("dataset", target.Dataset).Msg("Connected to BigQuery")
		count, err = migrateBigQuery(ctx, target, *migrationsDir, *appliedBy)
	case config.DriverSQLite:
		log.Info().Str("dsn", target.DSN).Msg("Opening SQLite database")
		applied, err := migrateSQLite(ctx, target.DSN)
		if err != nil {
			log.Error().Err(err).Msg("Migration failed")
			os.Exit(1)
		}
		for _, m := range applied {
			log.Info().Int("version", m.Version).Str("name", m.Name).Time("applied_at", m.AppliedAt).Msg("Applied")
		}
		log.Info().Int("schema_version", len(applied)).Msg("SQLite schema is up to date")
		return
	default:
		log.Fatal().Str("driver", target.Driver).Msg("Error: migrations are supported for bigquery and sqlite only")
	}
	if err != nil {
		log.Error().Err(err).Msg("Migration failed")
		os.Exit(1)
	}

	if count == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", count).Msg("Successfully applied migrations")
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// readBigQueryMigrations loads the migration files for a dataset.
func readBigQueryMigrations(ctx context.Context, dir, projectID, datasetID string) ([]migrate.Migration, error) {
	return migrate.Read(ctx, os.DirFS(dir), ".", map[string]string{
		migrate.PlaceholderProjectID: projectID,
		migrate.PlaceholderDatasetID: datasetID,
	})
}

func migrateBigQuery(ctx context.Context, target config.StoreConfig, dir, appliedBy string) (int, error) {
	migrations, err := readBigQueryMigrations(ctx, dir, target.ProjectID, target.Dataset)
	if err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx)
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	st, err := infraBQ.Open(ctx, target.ProjectID, target.Dataset)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	return migrate.Apply(ctx, st.Migrator(), migrations, appliedBy)
}

// migrateSQLite opens the database, which applies the embedded schema, and
// returns the migrations recorded afterwards.
func migrateSQLite(ctx context.Context, dsn string) ([]migrate.AppliedMigration, error) {
	st, err := sqlite.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	applied, err := st.Migrator().AppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrateSQLite: %w", err)
	}
	return applied, nil
}
