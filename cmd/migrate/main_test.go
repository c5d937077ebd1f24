package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/txn-reconciler/internal/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBigQueryMigrations(t *testing.T) {
	migrations, err := readBigQueryMigrations(context.Background(), "../../migrations/bigquery", "proj", "ds")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Checksum)
		assert.NotContains(t, m.SQL, migrate.PlaceholderProjectID)
		assert.NotContains(t, m.SQL, migrate.PlaceholderDatasetID)
	}
	assert.True(t, strings.Contains(migrations[0].SQL, "`proj.ds.transactions`"))
	assert.Equal(t, "ingestion_runs", migrations[1].Name)
}

func TestReadBigQueryMigrations_MissingDir(t *testing.T) {
	_, err := readBigQueryMigrations(context.Background(), filepath.Join(t.TempDir(), "nope"), "proj", "ds")
	assert.Error(t, err)
}

func TestMigrateSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "reconciler.db")

	applied, err := migrateSQLite(context.Background(), dsn)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	assert.Equal(t, 1, applied[0].Version)

	// A second run finds the schema already in place.
	again, err := migrateSQLite(context.Background(), dsn)
	require.NoError(t, err)
	assert.Len(t, again, len(applied))
}

func TestOverride(t *testing.T) {
	v := "sqlite"
	override(&v, "")
	assert.Equal(t, "sqlite", v)
	override(&v, "bigquery")
	assert.Equal(t, "bigquery", v)
}
