// Package config loads service configuration from defaults, an optional YAML
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverBigQuery = "bigquery"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "RECONCILER_CONFIG"

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Ingest IngestConfig `yaml:"ingest"`
	Log    LogConfig    `yaml:"log"`
	GCS    GCSConfig    `yaml:"gcs"`
	Notion NotionConfig `yaml:"notion"`
	Jobs   JobsConfig   `yaml:"jobs"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigin      string        `yaml:"cors_origin"`
}

// StoreConfig selects the persistence backend. DSN is used by sqlite,
// ProjectID and Dataset by bigquery.
type StoreConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
}

type IngestConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxRejections   int           `yaml:"max_rejections"`
	MaxLineBytes    int           `yaml:"max_line_bytes"`
	Charset         string        `yaml:"charset"`
	DateLayouts     []string      `yaml:"date_layouts"`
	ResolveAttempts int           `yaml:"resolve_attempts"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GCSConfig enables archiving uploads to a bucket when Bucket is set.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// JobsConfig sizes the asynchronous ingestion queue. Finished jobs are
// forgotten after Retention; zero keeps them for the process lifetime.
type JobsConfig struct {
	Workers    int           `yaml:"workers"`
	MaxRetries int           `yaml:"max_retries"`
	BufferSize int           `yaml:"buffer_size"`
	Retention  time.Duration `yaml:"retention"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            3001,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  32 << 20,
			CORSOrigin:      "*",
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "reconciler.db",
		},
		Ingest: IngestConfig{
			Timeout:         5 * time.Minute,
			MaxRejections:   100,
			MaxLineBytes:    1024 * 1024,
			Charset:         "utf-8",
			ResolveAttempts: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		GCS: GCSConfig{
			Prefix: "uploads",
		},
		Jobs: JobsConfig{
			Workers:    5,
			MaxRetries: 3,
			BufferSize: 100,
			Retention:  24 * time.Hour,
		},
	}
}

// Load builds the configuration. path may be empty, in which case the
// RECONCILER_CONFIG environment variable is consulted; a missing variable
// means defaults plus environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("Load: failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("Load: failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("applyEnv: invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	strs := map[string]*string{
		"STORE_DRIVER": &c.Store.Driver,
		"STORE_DSN":    &c.Store.DSN,
		"GCP_PROJECT":  &c.Store.ProjectID,
		"BQ_DATASET":   &c.Store.Dataset,
		"GCS_BUCKET":   &c.GCS.Bucket,
		"NOTION_TOKEN": &c.Notion.Token,
		"NOTION_DB_ID": &c.Notion.DatabaseID,
		"LOG_LEVEL":    &c.Log.Level,
		"LOG_FORMAT":   &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("Validate: store.dsn is required for the sqlite driver")
		}
	case DriverBigQuery:
		if c.Store.ProjectID == "" || c.Store.Dataset == "" {
			return fmt.Errorf("Validate: store.project_id and store.dataset are required for the bigquery driver")
		}
	default:
		return fmt.Errorf("Validate: unknown store driver %q", c.Store.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("Validate: server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("Validate: server.max_upload_bytes must be positive")
	}
	if c.Ingest.MaxRejections <= 0 {
		return fmt.Errorf("Validate: ingest.max_rejections must be positive")
	}
	if c.Ingest.MaxLineBytes <= 0 {
		return fmt.Errorf("Validate: ingest.max_line_bytes must be positive")
	}
	if c.Ingest.ResolveAttempts <= 0 {
		return fmt.Errorf("Validate: ingest.resolve_attempts must be positive")
	}
	if c.Ingest.Timeout < 0 {
		return fmt.Errorf("Validate: ingest.timeout must not be negative")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("Validate: jobs.workers must be positive")
	}
	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("Validate: jobs.max_retries must not be negative")
	}
	if c.Jobs.BufferSize <= 0 {
		return fmt.Errorf("Validate: jobs.buffer_size must be positive")
	}
	if c.Jobs.Retention < 0 {
		return fmt.Errorf("Validate: jobs.retention must not be negative")
	}
	return nil
}

// Addr returns the listen address of the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
