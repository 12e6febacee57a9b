// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Indexer, Codec, Storage, Catalog, Postgres, Kafka, Redis, etc.).
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
	Server   ServerConfig   `yaml:"server"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Codec    CodecConfig    `yaml:"codec"`
	Storage  StorageConfig  `yaml:"storage"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// IndexerConfig controls the indexing engine's memory thresholds, flush
// intervals, and segment merge policy.
type IndexerConfig struct {
	SegmentMaxSize         int64         `yaml:"segmentMaxSize"`
	MergeInterval          time.Duration `yaml:"mergeInterval"`
	FlushInterval          time.Duration `yaml:"flushInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge"`
	MergeFactor            int           `yaml:"mergeFactor"`
	MaxConcurrentMerges    int           `yaml:"maxConcurrentMerges"`
	MergeIOBytesPerSec     int           `yaml:"mergeIOBytesPerSec"`
	MergeRetryAttempts     int           `yaml:"mergeRetryAttempts"`
	// Fields maps indexed field names to their feature level. Fields not
	// listed are indexed at DefaultLevel.
	Fields       map[string]string `yaml:"fields"`
	DefaultLevel string            `yaml:"defaultLevel"`
}

// CodecConfig selects how new segments are encoded.
type CodecConfig struct {
	PostingsFormat    string `yaml:"postingsFormat"`
	SkipInterval      int    `yaml:"skipInterval"`
	TermsPerBlock     int    `yaml:"termsPerBlock"`
	StoredCompression string `yaml:"storedCompression"`
	StoredChunkDocs   int    `yaml:"storedChunkDocs"`
	StoredCacheSize   int    `yaml:"storedCacheSize"`
}

// StorageConfig picks the blob backend segments live in.
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	DataDir string      `yaml:"dataDir"`
	Minio   MinioConfig `yaml:"minio"`
}

// MinioConfig holds object store connection settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"useSSL"`
}

// CatalogConfig picks where commit points are recorded.
type CatalogConfig struct {
	Backend string `yaml:"backend"`
	// Index names the index in a shared catalog table.
	Index string `yaml:"index"`
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
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
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
	DocumentIngest string `yaml:"documentIngest"`
	IndexComplete  string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and lock parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	LockKey  string        `yaml:"lockKey"`
	LockTTL  time.Duration `yaml:"lockTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

var (
	postingsFormats   = []string{"delta", "bitmap"}
	storedCompression = []string{"none", "lz4", "zstd"}
	featureLevels     = []string{"docs", "docs_freqs", "docs_freqs_positions", "docs_freqs_positions_offsets", "docs_freqs_positions_offsets_payloads"}
)

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

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            8081,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Indexer: IndexerConfig{
			SegmentMaxSize:         10000,
			MergeInterval:          30 * time.Second,
			FlushInterval:          5 * time.Second,
			MaxSegmentsBeforeMerge: 10,
			MergeFactor:            4,
			MaxConcurrentMerges:    1,
			MergeRetryAttempts:     3,
			DefaultLevel:           "docs_freqs_positions_offsets",
		},
		Codec: CodecConfig{
			PostingsFormat:    "delta",
			SkipInterval:      16,
			TermsPerBlock:     32,
			StoredCompression: "lz4",
			StoredChunkDocs:   64,
			StoredCacheSize:   32,
		},
		Storage: StorageConfig{
			Backend: "local",
			DataDir: "./data/index",
			Minio: MinioConfig{
				Endpoint: "localhost:9000",
				Bucket:   "termindex",
			},
		},
		Catalog: CatalogConfig{
			Backend: "directory",
			Index:   "default",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "termindex",
			User:            "termindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "termindex-indexer",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexComplete:  "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			LockKey:  "termindex:commit-lock",
			LockTTL:  30 * time.Second,
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

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if !oneOf(c.Storage.Backend, "memory", "local", "minio") {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if !oneOf(c.Catalog.Backend, "directory", "postgres") {
		return fmt.Errorf("unknown catalog backend %q", c.Catalog.Backend)
	}
	if !oneOf(c.Codec.PostingsFormat, postingsFormats...) {
		return fmt.Errorf("unknown postings format %q", c.Codec.PostingsFormat)
	}
	if !oneOf(c.Codec.StoredCompression, storedCompression...) {
		return fmt.Errorf("unknown stored fields compression %q", c.Codec.StoredCompression)
	}
	if c.Codec.SkipInterval <= 0 || c.Codec.TermsPerBlock <= 0 || c.Codec.StoredChunkDocs <= 0 {
		return fmt.Errorf("codec block sizes must be positive")
	}
	if !oneOf(c.Indexer.DefaultLevel, featureLevels...) {
		return fmt.Errorf("unknown default feature level %q", c.Indexer.DefaultLevel)
	}
	for field, level := range c.Indexer.Fields {
		if !oneOf(level, featureLevels...) {
			return fmt.Errorf("field %s: unknown feature level %q", field, level)
		}
	}
	if c.Indexer.SegmentMaxSize <= 0 {
		return fmt.Errorf("indexer segmentMaxSize must be positive")
	}
	if c.Indexer.MergeFactor < 2 {
		return fmt.Errorf("indexer mergeFactor must be at least 2")
	}
	if c.Indexer.MaxConcurrentMerges <= 0 {
		return fmt.Errorf("indexer maxConcurrentMerges must be positive")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// applyEnvOverrides reads TI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TI_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("TI_STORAGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("TI_MINIO_ENDPOINT"); v != "" {
		cfg.Storage.Minio.Endpoint = v
	}
	if v := os.Getenv("TI_MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.Minio.AccessKey = v
	}
	if v := os.Getenv("TI_MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.Minio.SecretKey = v
	}
	if v := os.Getenv("TI_MINIO_BUCKET"); v != "" {
		cfg.Storage.Minio.Bucket = v
	}
	if v := os.Getenv("TI_CATALOG_BACKEND"); v != "" {
		cfg.Catalog.Backend = v
	}
	if v := os.Getenv("TI_CODEC_POSTINGS_FORMAT"); v != "" {
		cfg.Codec.PostingsFormat = v
	}
	if v := os.Getenv("TI_CODEC_STORED_COMPRESSION"); v != "" {
		cfg.Codec.StoredCompression = v
	}
	if v := os.Getenv("TI_INDEXER_SEGMENT_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Indexer.SegmentMaxSize = n
		}
	}
	if v := os.Getenv("TI_INDEXER_MERGE_IO_BYTES_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.MergeIOBytesPerSec = n
		}
	}
	if v := os.Getenv("TI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TI_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TI_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TI_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TI_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("TI_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true"
	}
	if v := os.Getenv("TI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TI_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true"
	}
	if v := os.Getenv("TI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TI_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
