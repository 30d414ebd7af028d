package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig holds the ingestion and embedding tunables.
type PipelineConfig struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	OCR       OCRConfig       `yaml:"ocr"`
	Citation  CitationConfig  `yaml:"citation"`
	Search    SearchConfig    `yaml:"search"`
}

type ChunkingConfig struct {
	Size      int  `yaml:"size"`
	Overlap   int  `yaml:"overlap"`
	CountToks bool `yaml:"count_tokens"`
}

type EmbeddingConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	MaxAttempts   int           `yaml:"max_attempts"`
	Backoff       time.Duration `yaml:"backoff"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	PoolSize      int           `yaml:"pool_size"`
	// Scheduler is "queue" (asynq task per document) or "pool" (in-process).
	Scheduler string `yaml:"scheduler"`
}

type OCRConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Engine   string `yaml:"engine"` // tesseract | textract
	Language string `yaml:"language"`
	// PageWorkers bounds concurrent page extraction per document.
	PageWorkers int `yaml:"page_workers"`
}

type CitationConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// DefaultPipelineConfig mirrors the values the service ran with before the
// settings were made configurable.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Chunking: ChunkingConfig{Size: 600, Overlap: 100, CountToks: true},
		Embedding: EmbeddingConfig{
			BatchSize:     100,
			MaxAttempts:   3,
			Backoff:       time.Second,
			SweepInterval: time.Minute,
			PoolSize:      4,
			Scheduler:     "queue",
		},
		OCR:      OCRConfig{Enabled: true, Engine: "tesseract", Language: "eng", PageWorkers: 4},
		Citation: CitationConfig{TTL: 10 * time.Minute},
		Search:   SearchConfig{DefaultTopK: 5, MaxTopK: 50},
	}
}

// LoadPipelineConfig reads path on top of the defaults. A missing file
// yields the defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetPipelineConfig loads the file named by PIPELINE_CONFIG.
func GetPipelineConfig() (*PipelineConfig, error) {
	loadEnv()
	return LoadPipelineConfig(getEnv("PIPELINE_CONFIG", "config/pipeline.yaml"))
}

func (c *PipelineConfig) Validate() error {
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.MaxAttempts <= 0 {
		return fmt.Errorf("embedding.max_attempts must be positive, got %d", c.Embedding.MaxAttempts)
	}
	if c.Embedding.Scheduler != "queue" && c.Embedding.Scheduler != "pool" {
		return fmt.Errorf("embedding.scheduler must be queue or pool, got %q", c.Embedding.Scheduler)
	}
	if c.OCR.Engine != "tesseract" && c.OCR.Engine != "textract" {
		return fmt.Errorf("ocr.engine must be tesseract or textract, got %q", c.OCR.Engine)
	}
	if c.Search.DefaultTopK <= 0 || c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("invalid search top_k bounds: default %d, max %d", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	return nil
}
