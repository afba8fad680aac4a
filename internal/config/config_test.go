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
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2000, cfg.Server.MaxQueryLength)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 0.7, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, "LUOS", cfg.Retrieval.DefaultDocument)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "postgres", cfg.Cache.Backend)
	assert.False(t, cfg.LLMEnabled())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  backend: redis
  ttl: 2h
retrieval:
  top_k: 8
  default_document: pdus
llm:
  provider: anthropic
  model: claude-3-5-haiku-latest
`), 0o644))

	t.Setenv("RETRIEVAL_SIMILARITY_THRESHOLD", "0.55")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 0.55, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, "PDUS", cfg.Retrieval.DefaultDocument)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.True(t, cfg.LLMEnabled())
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"top_k zero", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"top_k too large", func(c *Config) { c.Retrieval.TopK = 51 }},
		{"threshold above one", func(c *Config) { c.Retrieval.SimilarityThreshold = 1.2 }},
		{"negative threshold", func(c *Config) { c.Retrieval.SimilarityThreshold = -0.1 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"unknown search mode", func(c *Config) { c.Retrieval.SearchMode = "ivfflat" }},
		{"unknown document", func(c *Config) { c.Retrieval.DefaultDocument = "CODIGO" }},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "deepseek" }},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Cache.Enabled = false
	cfg.Cache.Backend = "anything"
	assert.NoError(t, cfg.Validate(), "backend is ignored when the cache is off")
}
