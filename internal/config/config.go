package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// Duration lets yaml carry values like "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// EmbeddingConfig is the versioned embedding model configuration. Model and
// Dimensions travel together: changing the model changes the vector width
// system-wide and invalidates every stored vector.
type EmbeddingConfig struct {
	Provider   string   `yaml:"provider"` // "ollama" or "openai"
	BaseURL    string   `yaml:"base_url"`
	Key        string   `yaml:"key"`
	Model      string   `yaml:"model"`
	Dimensions int      `yaml:"dimensions"`
	Timeout    Duration `yaml:"timeout"`
	BatchSize  int      `yaml:"batch_size"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

type RAGConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	ChunkOverlap  int     `yaml:"chunk_overlap"`
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
}

type BackfillConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Blob      BlobConfig      `yaml:"blob"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	RAG       RAGConfig       `yaml:"rag"`
	Backfill  BackfillConfig  `yaml:"backfill"`
}

const (
	defaultChunkSize     = 1000
	defaultChunkOverlap  = 100
	defaultTopK          = 5
	defaultMinSimilarity = 0.3
	defaultConcurrency   = 4
	defaultTimeout       = 30 * time.Second
	defaultBatchSize     = 16
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = defaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.MinSimilarity == 0 {
		c.RAG.MinSimilarity = defaultMinSimilarity
	}
	if c.Backfill.Concurrency == 0 {
		c.Backfill.Concurrency = defaultConcurrency
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = Duration(defaultTimeout)
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = defaultBatchSize
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	return nil
}
