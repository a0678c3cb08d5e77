package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// MeilisearchConfig holds full-text driver settings
type MeilisearchConfig struct {
	Host        string `yaml:"host"`
	APIKey      string `yaml:"api_key"`
	IndexPrefix string `yaml:"index_prefix"`
}

// EmbeddingConfig holds the default embedding provider settings. The
// module-config service may shadow these at runtime per tenant job.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai" or "deterministic"
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// EntityPolicy is the declarative field policy of one entity
type EntityPolicy struct {
	Searchable []string `yaml:"searchable"`
	HashOnly   []string `yaml:"hash_only"`
	Excluded   []string `yaml:"excluded"`
}

// EntityEncryptedField maps an encrypted column to its optional
// deterministic hash sibling
type EntityEncryptedField struct {
	Field     string `yaml:"field"`
	HashField string `yaml:"hash_field"`
}

// EntityConfig declares one searchable entity. Hook-based refinement
// (custom presenters, URLs, links) is registered in code by embedding
// modules; the file only carries the declarative part.
type EntityConfig struct {
	ID         string   `yaml:"id"`
	Disabled   bool     `yaml:"disabled"`
	Priority   int      `yaml:"priority"`
	Strategies []string `yaml:"strategies"`

	Policy          *EntityPolicy          `yaml:"policy"`
	EncryptedFields []EntityEncryptedField `yaml:"encrypted_fields"`
}

// Config is the process-wide immutable configuration, read once at startup
type Config struct {
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	// EncryptionKey is the master password the static DEK provider
	// derives per-organization keys from. Empty disables decryption.
	EncryptionKey string `yaml:"encryption_key"`

	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Entities    []EntityConfig    `yaml:"entities"`

	DisableVectorAutoIndexing   bool `yaml:"disable_vector_autoindexing"`
	DisableFulltextAutoIndexing bool `yaml:"disable_fulltext_autoindexing"`
	ExcludeEncryptedFields      bool `yaml:"exclude_encrypted_fields"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "/var/lib/search",
		Meilisearch: MeilisearchConfig{
			Host:        "http://127.0.0.1:7700",
			IndexPrefix: "search",
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	}
}

// Load reads the configuration file (when path is non-empty) and applies
// environment overrides on top of the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv shadows file values with process environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("SEARCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SEARCH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("SEARCH_ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
	if v := os.Getenv("MEILISEARCH_HOST"); v != "" {
		c.Meilisearch.Host = v
	}
	if v := os.Getenv("MEILISEARCH_API_KEY"); v != "" {
		c.Meilisearch.APIKey = v
	}
	if v := os.Getenv("MEILISEARCH_INDEX_PREFIX"); v != "" {
		c.Meilisearch.IndexPrefix = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.Dimension = n
		}
	}
	if envBool("DISABLE_VECTOR_SEARCH_AUTOINDEXING") {
		c.DisableVectorAutoIndexing = true
	}
	if envBool("DISABLE_FULLTEXT_SEARCH_AUTOINDEXING") {
		c.DisableFulltextAutoIndexing = true
	}
	if envBool("SEARCH_EXCLUDE_ENCRYPTED_FIELDS") {
		c.ExcludeEncryptedFields = true
	}
}

func envBool(name string) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "yes":
		return true
	}
	return false
}
