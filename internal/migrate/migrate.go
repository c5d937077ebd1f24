// Package migrate applies versioned SQL migrations. Migration files are named
// NNNN_name.sql and are applied in version order, once each, with a record in
// a schema_migrations table kept by the target Executor.
package migrate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/txn-reconciler/internal/logger"
)

// Placeholders substituted in migration SQL before execution.
const (
	PlaceholderProjectID = "{{PROJECT_ID}}"
	PlaceholderDatasetID = "{{DATASET_ID}}"
)

var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Executor runs migrations against one database.
type Executor interface {
	EnsureSchemaMigrationsTable(ctx context.Context) error
	AppliedMigrations(ctx context.Context) ([]AppliedMigration, error)
	Execute(ctx context.Context, m Migration) error
	Record(ctx context.Context, m Migration, appliedBy string) error
}

// ParseFilename extracts the version and name of a migration file.
func ParseFilename(filename string) (int, string, bool) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// Read loads all migration files in dir of fsys, sorted by version.
// Placeholders are replaced in the SQL; the checksum is computed from the
// raw file so it does not depend on the target project or dataset.
func Read(ctx context.Context, fsys fs.FS, dir string, replacements map[string]string) ([]Migration, error) {
	log := logger.FromContext(ctx)

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("Read: reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, ok := ParseFilename(entry.Name())
		if !ok {
			log.Debug().Str("file", entry.Name()).Msg("Skipping file with invalid migration name")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("Read: duplicate migration version %04d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("Read: reading file %s: %w", entry.Name(), err)
		}

		sql := string(content)
		for placeholder, value := range replacements {
			sql = strings.ReplaceAll(sql, placeholder, value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Apply runs every migration that the executor has not recorded yet and
// returns how many were applied.
func Apply(ctx context.Context, exec Executor, migrations []Migration, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if err := exec.EnsureSchemaMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("Apply: ensuring schema_migrations table: %w", err)
	}

	applied, err := exec.AppliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("Apply: reading applied migrations: %w", err)
	}

	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	count := 0
	for _, m := range migrations {
		if am, ok := appliedByVersion[m.Version]; ok {
			if am.Checksum != "" && am.Checksum != m.Checksum {
				log.Warn().
					Int("version", m.Version).
					Str("name", m.Name).
					Msg("Applied migration has changed since it was recorded")
			}
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("Migration already applied")
			continue
		}

		if err := exec.Execute(ctx, m); err != nil {
			return count, fmt.Errorf("Apply: executing migration %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := exec.Record(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("Apply: recording migration %04d_%s: %w", m.Version, m.Name, err)
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Migration applied")
		count++
	}

	return count, nil
}
