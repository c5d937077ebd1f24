package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/migrate"
)

// Migrator applies migrations to a SQLite database.
type Migrator struct {
	db *sql.DB
}

// Migrator returns a migrate.Executor over the store's database.
func (s *Store) Migrator() *Migrator {
	return &Migrator{db: s.db}
}

// EnsureSchemaMigrationsTable implements migrate.Executor.
func (m *Migrator) EnsureSchemaMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TEXT NOT NULL,
			checksum    TEXT,
			applied_by  TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("EnsureSchemaMigrationsTable: %w", err)
	}
	return nil
}

// AppliedMigrations implements migrate.Executor.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]migrate.AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT version, name, applied_at, checksum, applied_by
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("AppliedMigrations: query: %w", err)
	}
	defer rows.Close()

	var applied []migrate.AppliedMigration
	for rows.Next() {
		var (
			am                  migrate.AppliedMigration
			appliedAt           string
			checksum, appliedBy sql.NullString
		)
		if err := rows.Scan(&am.Version, &am.Name, &appliedAt, &checksum, &appliedBy); err != nil {
			return nil, fmt.Errorf("AppliedMigrations: scan: %w", err)
		}
		am.AppliedAt, _ = time.Parse(timeLayout, appliedAt)
		am.Checksum = checksum.String
		am.AppliedBy = appliedBy.String
		applied = append(applied, am)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("AppliedMigrations: iterating: %w", err)
	}
	return applied, nil
}

// Execute implements migrate.Executor.
func (m *Migrator) Execute(ctx context.Context, mig migrate.Migration) error {
	if _, err := m.db.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("Execute: %w", err)
	}
	return nil
}

// Record implements migrate.Executor.
func (m *Migrator) Record(ctx context.Context, mig migrate.Migration, appliedBy string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, applied_at, checksum, applied_by)
		VALUES (?, ?, ?, ?, ?)
	`, mig.Version, mig.Name, time.Now().UTC().Format(timeLayout), mig.Checksum, appliedBy)
	if err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	return nil
}

var _ migrate.Executor = (*Migrator)(nil)
