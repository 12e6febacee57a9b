package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "delta", cfg.Codec.PostingsFormat)
	assert.Equal(t, 16, cfg.Codec.SkipInterval)
	assert.Equal(t, 4, cfg.Indexer.MergeFactor)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	yaml := `
indexer:
  flushInterval: 2s
  fields:
    title: docs
    body: docs_freqs_positions_offsets_payloads
codec:
  postingsFormat: bitmap
  storedCompression: zstd
storage:
  backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("TI_POSTGRES_HOST", "db.internal")
	t.Setenv("TI_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TI_INDEXER_SEGMENT_MAX_SIZE", "500")
	t.Setenv("TI_SERVER_PORT", "9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Indexer.FlushInterval)
	assert.Equal(t, "docs", cfg.Indexer.Fields["title"])
	assert.Equal(t, "bitmap", cfg.Codec.PostingsFormat)
	assert.Equal(t, "zstd", cfg.Codec.StoredCompression)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	// Unset keys keep their defaults.
	assert.Equal(t, 32, cfg.Codec.TermsPerBlock)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(500), cfg.Indexer.SegmentMaxSize)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"storage backend", func(c *Config) { c.Storage.Backend = "tape" }},
		{"catalog backend", func(c *Config) { c.Catalog.Backend = "etcd" }},
		{"postings format", func(c *Config) { c.Codec.PostingsFormat = "vbyte" }},
		{"compression", func(c *Config) { c.Codec.StoredCompression = "gzip" }},
		{"block size", func(c *Config) { c.Codec.TermsPerBlock = 0 }},
		{"field level", func(c *Config) { c.Indexer.Fields = map[string]string{"f": "positions"} }},
		{"merge factor", func(c *Config) { c.Indexer.MergeFactor = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestDSN(t *testing.T) {
	p := Default().Postgres
	assert.Equal(t, "host=localhost port=5432 user=termindex password=localdev dbname=termindex sslmode=disable", p.DSN())
}
