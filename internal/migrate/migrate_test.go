package migrate

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_init_schema_migrations.sql", true, 1, "init_schema_migrations"},
		{"0012_add_index.sql", true, 12, "add_index"},
		{"001_invalid.sql", false, 0, ""},
		{"0001_test", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"invalid_0001_test.sql", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := ParseFilename(tt.filename)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestRead(t *testing.T) {
	raw := "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.clients` (id STRING);"
	fsys := fstest.MapFS{
		"m/0002_second.sql": {Data: []byte("SELECT 2;")},
		"m/0001_first.sql":  {Data: []byte(raw)},
		"m/README.md":       {Data: []byte("not a migration")},
	}

	migrations, err := Read(context.Background(), fsys, "m", map[string]string{
		PlaceholderProjectID: "proj",
		PlaceholderDatasetID: "reconciler",
	})
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE `proj.reconciler.clients` (id STRING);", migrations[0].SQL)
	assert.Equal(t, fmt.Sprintf("%x", sha256.Sum256([]byte(raw))), migrations[0].Checksum)

	assert.Equal(t, 2, migrations[1].Version)
}

func TestRead_ChecksumIgnoresReplacements(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_first.sql": {Data: []byte("CREATE TABLE {{DATASET_ID}}.t (id INT64);")},
	}
	ctx := context.Background()

	a, err := Read(ctx, fsys, "m", map[string]string{PlaceholderDatasetID: "a"})
	require.NoError(t, err)
	b, err := Read(ctx, fsys, "m", map[string]string{PlaceholderDatasetID: "b"})
	require.NoError(t, err)

	assert.NotEqual(t, a[0].SQL, b[0].SQL)
	assert.Equal(t, a[0].Checksum, b[0].Checksum)
}

func TestRead_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_first.sql": {Data: []byte("SELECT 1;")},
		"m/0001_other.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := Read(context.Background(), fsys, "m", nil)
	assert.Error(t, err)
}

// fakeExecutor records migrations in memory.
type fakeExecutor struct {
	applied  []AppliedMigration
	executed []string
	failOn   int
}

func (f *fakeExecutor) EnsureSchemaMigrationsTable(ctx context.Context) error { return nil }

func (f *fakeExecutor) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	return f.applied, nil
}

func (f *fakeExecutor) Execute(ctx context.Context, m Migration) error {
	if m.Version == f.failOn {
		return errors.New("boom")
	}
	f.executed = append(f.executed, m.Name)
	return nil
}

func (f *fakeExecutor) Record(ctx context.Context, m Migration, appliedBy string) error {
	f.applied = append(f.applied, AppliedMigration{Version: m.Version, Name: m.Name, Checksum: m.Checksum, AppliedBy: appliedBy})
	return nil
}

func TestApply(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "first", Checksum: "c1"},
		{Version: 2, Name: "second", Checksum: "c2"},
		{Version: 3, Name: "third", Checksum: "c3"},
	}
	exec := &fakeExecutor{applied: []AppliedMigration{{Version: 1, Name: "first", Checksum: "c1"}}}

	n, err := Apply(context.Background(), exec, migrations, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"second", "third"}, exec.executed)
	assert.Equal(t, "test", exec.applied[2].AppliedBy)

	n, err = Apply(context.Background(), exec, migrations, "test")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApply_StopsOnFailure(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "first"},
		{Version: 2, Name: "second"},
		{Version: 3, Name: "third"},
	}
	exec := &fakeExecutor{failOn: 2}

	n, err := Apply(context.Background(), exec, migrations, "test")
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"first"}, exec.executed)
	assert.Len(t, exec.applied, 1)
}
