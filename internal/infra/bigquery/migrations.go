package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txn-reconciler/internal/migrate"
	"google.golang.org/api/iterator"
)

// Migrator applies migrations to the store's dataset.
type Migrator struct {
	store *Store
}

// Migrator returns a migrate.Executor over the store's dataset.
func (s *Store) Migrator() *Migrator {
	return &Migrator{store: s}
}

// EnsureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func (m *Migrator) EnsureSchemaMigrationsTable(ctx context.Context) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.store.table(schemaMigrationsTable))

	if _, err := m.store.runDML(ctx, sql, nil); err != nil {
		return fmt.Errorf("EnsureSchemaMigrationsTable: %w", err)
	}
	return nil
}

// AppliedMigrations retrieves the list of already applied migrations
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]migrate.AppliedMigration, error) {
	sql := fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.store.table(schemaMigrationsTable))

	it, err := m.store.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("AppliedMigrations: reading applied migrations: %w", err)
	}

	var applied []migrate.AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("AppliedMigrations: iterating results: %w", err)
		}

		applied = append(applied, migrate.AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}

	return applied, nil
}

// Execute executes a single migration SQL
func (m *Migrator) Execute(ctx context.Context, mig migrate.Migration) error {
	if _, err := m.store.runDML(ctx, mig.SQL, nil); err != nil {
		return fmt.Errorf("Execute: %w", err)
	}
	return nil
}

// Record records a successfully applied migration in schema_migrations
func (m *Migrator) Record(ctx context.Context, mig migrate.Migration, appliedBy string) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.store.table(schemaMigrationsTable))

	_, err := m.store.runDML(ctx, sql, []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: appliedBy},
	})
	if err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	return nil
}

var _ migrate.Executor = (*Migrator)(nil)
