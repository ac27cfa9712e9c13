// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Catalog, Index, Postgres, SQLite, Kafka, Redis, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Catalog  CatalogConfig  `yaml:"catalog"`
	Index    IndexConfig    `yaml:"index"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// CatalogConfig selects the metadata reader backend and tunes the document
// extraction pipeline.
type CatalogConfig struct {
	// Reader is one of "filesystem", "postgres" or "sqlite".
	Reader string `yaml:"reader"`
	// DataDir holds one XML file per record for the filesystem reader.
	DataDir string `yaml:"dataDir"`
	// QueryablesFile replaces the embedded queryable field maps when set.
	QueryablesFile string `yaml:"queryablesFile"`
	// AdditionalQueryables are contributed on top of the standard maps.
	AdditionalQueryables map[string][]string `yaml:"additionalQueryables"`
	// DecodeMode is "typed" (standard-specific accessors) or "node" (DOM).
	DecodeMode string `yaml:"decodeMode"`

	ForceRebuild       bool          `yaml:"forceRebuild"`
	WorkerPoolSize     int           `yaml:"workerPoolSize"`
	QueueBound         int           `yaml:"queueBound"`
	RebuildConcurrency int           `yaml:"rebuildConcurrency"`
	FetchTimeout       time.Duration `yaml:"fetchTimeout"`
	FetchAttempts      int           `yaml:"fetchAttempts"`
	DefaultCRS         string        `yaml:"defaultCrs"`
}

// IndexConfig controls the index engine, its on-disk location and the
// segment flush/merge policy of the segmented engine.
type IndexConfig struct {
	// Engine is "segmented" or "bleve".
	Engine         string        `yaml:"engine"`
	Location       string        `yaml:"location"`
	SegmentMaxSize int64         `yaml:"segmentMaxSize"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
	// MaxSegmentsBeforeMerge triggers a merge on flush once exceeded; zero
	// leaves merging to Optimize.
	MaxSegmentsBeforeMerge int `yaml:"maxSegmentsBeforeMerge"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	RecordsTable    string        `yaml:"recordsTable"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// SQLiteConfig holds the path of an embedded SQLite metadata store.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	RecordsTable string `yaml:"recordsTable"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RecordChanges   string `yaml:"recordChanges"`
	RebuildComplete string `yaml:"rebuildComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	MaxResults   int           `yaml:"maxResults"`
	DefaultLimit int           `yaml:"defaultLimit"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging of rebuild phases.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch c.Catalog.Reader {
	case "filesystem", "postgres", "sqlite":
	default:
		return fmt.Errorf("catalog.reader: unsupported backend %q", c.Catalog.Reader)
	}
	switch c.Catalog.DecodeMode {
	case "typed", "node":
	default:
		return fmt.Errorf("catalog.decodeMode: unsupported mode %q", c.Catalog.DecodeMode)
	}
	switch c.Index.Engine {
	case "segmented", "bleve":
	default:
		return fmt.Errorf("index.engine: unsupported engine %q", c.Index.Engine)
	}
	if c.Index.Location == "" {
		return fmt.Errorf("index.location is required")
	}
	if c.Catalog.WorkerPoolSize <= 0 {
		return fmt.Errorf("catalog.workerPoolSize must be positive, got %d", c.Catalog.WorkerPoolSize)
	}
	if c.Catalog.QueueBound <= 0 {
		return fmt.Errorf("catalog.queueBound must be positive, got %d", c.Catalog.QueueBound)
	}
	if c.Catalog.RebuildConcurrency <= 0 {
		return fmt.Errorf("catalog.rebuildConcurrency must be positive, got %d", c.Catalog.RebuildConcurrency)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development. The
// pool size and queue bound mirror the historical catalog indexer (6 and 5).
func defaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Reader:             "filesystem",
			DataDir:            "data/records",
			DecodeMode:         "typed",
			WorkerPoolSize:     6,
			QueueBound:         5,
			RebuildConcurrency: 1,
			FetchTimeout:       10 * time.Second,
			FetchAttempts:      3,
			DefaultCRS:         "EPSG:4326",
		},
		Index: IndexConfig{
			Engine:                 "segmented",
			Location:               "data/index",
			SegmentMaxSize:         64 * 1024 * 1024,
			FlushInterval:          30 * time.Second,
			MaxSegmentsBeforeMerge: 16,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "catalog",
			User:            "catalog",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			RecordsTable:    "records",
		},
		SQLite: SQLiteConfig{
			Path:         "data/catalog.db",
			RecordsTable: "records",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "csw-indexer",
			Topics: KafkaTopics{
				RecordChanges:   "catalog.record-changes",
				RebuildComplete: "catalog.rebuild-complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Search: SearchConfig{
			MaxResults:   1000,
			DefaultLimit: 10,
			Timeout:      5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CSW_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CSW_CATALOG_READER"); v != "" {
		cfg.Catalog.Reader = v
	}
	if v := os.Getenv("CSW_CATALOG_DATA_DIR"); v != "" {
		cfg.Catalog.DataDir = v
	}
	if v := os.Getenv("CSW_CATALOG_QUERYABLES_FILE"); v != "" {
		cfg.Catalog.QueryablesFile = v
	}
	if v := os.Getenv("CSW_CATALOG_FORCE_REBUILD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Catalog.ForceRebuild = b
		}
	}
	if v := os.Getenv("CSW_CATALOG_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Catalog.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("CSW_CATALOG_REBUILD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Catalog.RebuildConcurrency = n
		}
	}
	if v := os.Getenv("CSW_INDEX_ENGINE"); v != "" {
		cfg.Index.Engine = v
	}
	if v := os.Getenv("CSW_INDEX_LOCATION"); v != "" {
		cfg.Index.Location = v
	}
	if v := os.Getenv("CSW_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CSW_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CSW_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CSW_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CSW_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CSW_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("CSW_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("CSW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CSW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CSW_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CSW_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CSW_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
