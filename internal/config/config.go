// Package config loads engine configuration from a YAML file with
// environment variable overrides for deployment-specific values.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// QdrantConfig holds vector store connection details.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// EmbeddingConfig configures the embedding microservice client.
type EmbeddingConfig struct {
	BaseURL     string  `yaml:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec"`
}

// ChatConfig configures the OpenAI-compatible chat completion client.
type ChatConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RerankerConfig configures the optional cross-encoder service.
type RerankerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ChunkingConfig configures the document splitter.
type ChunkingConfig struct {
	SizeTokens    int `yaml:"size_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

// RetrievalConfig holds the retrieval defaults.
type RetrievalConfig struct {
	TopK           int  `yaml:"top_k"`
	InitialK       int  `yaml:"initial_k"`
	MaxQueries     int  `yaml:"max_queries"`
	QueryRewriting bool `yaml:"query_rewriting"`
	Compression    bool `yaml:"compression"`
}

// IngestConfig configures the ingestion daemon.
type IngestConfig struct {
	DataDir          string `yaml:"data_dir"`
	ScanIntervalSecs int    `yaml:"scan_interval_secs"`
	NATSURL          string `yaml:"nats_url"`
	Workers          int    `yaml:"workers"`
}

// Config is the root configuration.
type Config struct {
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	// MetricsPort is where /metrics is served; 0 disables the listener.
	MetricsPort int `yaml:"metrics_port"`
}

// Load reads the config file at path. A missing file yields defaults so the
// engine runs out of the box against local services.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Qdrant: QdrantConfig{
			Addr:       "localhost:6334",
			Collection: "pdf_chunks",
		},
		Embedding: EmbeddingConfig{
			BaseURL:     "http://localhost:8001",
			TimeoutSecs: 30,
		},
		Chat: ChatConfig{
			BaseURL:     "http://localhost:11434/v1",
			APIKeyEnv:   "CHAT_API_KEY",
			Model:       "llama3.1:8b",
			TimeoutSecs: 60,
		},
		Reranker: RerankerConfig{
			BaseURL:     "http://localhost:8002",
			TimeoutSecs: 10,
		},
		Chunking: ChunkingConfig{
			SizeTokens:    800,
			OverlapTokens: 150,
		},
		Retrieval: RetrievalConfig{
			TopK:           6,
			InitialK:       30,
			MaxQueries:     3,
			QueryRewriting: true,
			Compression:    true,
		},
		Ingest: IngestConfig{
			DataDir:          "./data",
			ScanIntervalSecs: 30,
			NATSURL:          "",
			Workers:          4,
		},
		MetricsPort: 9091,
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Qdrant.Addr == "" {
		cfg.Qdrant.Addr = def.Qdrant.Addr
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = def.Qdrant.Collection
	}
	if cfg.Embedding.TimeoutSecs <= 0 {
		cfg.Embedding.TimeoutSecs = def.Embedding.TimeoutSecs
	}
	if cfg.Chat.APIKeyEnv == "" {
		cfg.Chat.APIKeyEnv = def.Chat.APIKeyEnv
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = def.Chat.Model
	}
	if cfg.Chat.TimeoutSecs <= 0 {
		cfg.Chat.TimeoutSecs = def.Chat.TimeoutSecs
	}
	if cfg.Reranker.TimeoutSecs <= 0 {
		cfg.Reranker.TimeoutSecs = def.Reranker.TimeoutSecs
	}
	if cfg.Chunking.SizeTokens <= 0 {
		cfg.Chunking.SizeTokens = def.Chunking.SizeTokens
	}
	if cfg.Chunking.OverlapTokens <= 0 {
		cfg.Chunking.OverlapTokens = def.Chunking.OverlapTokens
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.InitialK <= 0 {
		cfg.Retrieval.InitialK = def.Retrieval.InitialK
	}
	if cfg.Retrieval.MaxQueries <= 0 {
		cfg.Retrieval.MaxQueries = def.Retrieval.MaxQueries
	}
	if cfg.Ingest.DataDir == "" {
		cfg.Ingest.DataDir = def.Ingest.DataDir
	}
	if cfg.Ingest.ScanIntervalSecs <= 0 {
		cfg.Ingest.ScanIntervalSecs = def.Ingest.ScanIntervalSecs
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = def.Ingest.Workers
	}
}

// applyEnvOverrides lets deployments override connection endpoints without
// editing the config file.
func applyEnvOverrides(cfg *Config) {
	setIfEnv(&cfg.Qdrant.Addr, "QDRANT_ADDR")
	setIfEnv(&cfg.Qdrant.Collection, "QDRANT_COLLECTION")
	setIfEnv(&cfg.Embedding.BaseURL, "EMBEDDING_URL")
	setIfEnv(&cfg.Chat.BaseURL, "CHAT_BASE_URL")
	setIfEnv(&cfg.Chat.Model, "CHAT_MODEL")
	setIfEnv(&cfg.Reranker.BaseURL, "RERANKER_URL")
	setIfEnv(&cfg.Ingest.DataDir, "INGEST_DATA_DIR")
	setIfEnv(&cfg.Ingest.NATSURL, "NATS_URL")
	if v := os.Getenv("RERANKER_ENABLED"); v == "1" || v == "true" {
		cfg.Reranker.Enabled = true
	}
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// ChatAPIKey resolves the chat API key from the configured variable. An
// empty key is valid for local OpenAI-compatible servers.
func (c *Config) ChatAPIKey() string {
	return os.Getenv(c.Chat.APIKeyEnv)
}

// EmbeddingTimeout returns the embedding client timeout as a duration.
func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutSecs) * time.Second
}

// ChatTimeout returns the chat client timeout as a duration.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.Chat.TimeoutSecs) * time.Second
}

// RerankerTimeout returns the reranker client timeout as a duration.
func (c *Config) RerankerTimeout() time.Duration {
	return time.Duration(c.Reranker.TimeoutSecs) * time.Second
}

// ScanInterval returns the ingest directory scan interval.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Ingest.ScanIntervalSecs) * time.Second
}
