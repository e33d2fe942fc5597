// Package config loads LogBot configuration from defaults, an optional YAML
// file, a .env file and the process environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           string `yaml:"port"`
	CORSOrigin     string `yaml:"cors_origin"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// OllamaConfig configures the embedding and chat models.
type OllamaConfig struct {
	URL             string  `yaml:"url"`
	EmbedModel      string  `yaml:"embed_model"`
	ChatModel       string  `yaml:"chat_model"`
	Temperature     float64 `yaml:"temperature"`
	EmbedRatePerSec float64 `yaml:"embed_rate_per_sec"`
	EmbedBurst      int     `yaml:"embed_burst"`
}

// StoreConfig selects the chunk store backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // qdrant | neo4j | memory
	QdrantURL  string `yaml:"qdrant_url"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
	Neo4jURL   string `yaml:"neo4j_url"`
	Neo4jUser  string `yaml:"neo4j_user"`
	Neo4jPass  string `yaml:"neo4j_pass"`
}

// ChunkerConfig selects the splitting strategy.
type ChunkerConfig struct {
	Strategy   string  `yaml:"strategy"` // structural | semantic
	Percentile float64 `yaml:"percentile"`
}

// RetrievalConfig holds the retrieval tunables.
type RetrievalConfig struct {
	Threshold      float64 `yaml:"threshold"`
	CandidateLimit int     `yaml:"candidate_limit"`
	K              int     `yaml:"k"`
	Lambda         float64 `yaml:"lambda"`
	RerankWidth    int     `yaml:"rerank_width"` // 0 disables reranking
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	Workers    int           `yaml:"workers"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	Mode       string        `yaml:"mode"` // sync | nats
	Timeout    time.Duration `yaml:"timeout"`
}

// NATSConfig configures the async ingestion transport.
type NATSConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Store     StoreConfig     `yaml:"store"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	NATS      NATSConfig      `yaml:"nats"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8000", CORSOrigin: "http://localhost:3000", MaxUploadBytes: 32 << 20},
		Ollama: OllamaConfig{
			URL:         "http://localhost:11434",
			EmbedModel:  "nomic-embed-text",
			ChatModel:   "llama3.1",
			Temperature: 0.3,
			EmbedBurst:  1,
		},
		Store: StoreConfig{
			Backend:    "qdrant",
			QdrantURL:  "localhost:6334",
			Collection: "logbot_chunks",
			VectorSize: 768,
			Neo4jURL:   "neo4j://localhost:7687",
			Neo4jUser:  "neo4j",
			Neo4jPass:  "password",
		},
		Chunker:   ChunkerConfig{Strategy: "structural", Percentile: 95},
		Retrieval: RetrievalConfig{Threshold: 0.4, CandidateLimit: 20, K: 10, Lambda: 0.7, RerankWidth: 7},
		Ingest:    IngestConfig{Workers: 4, SessionTTL: 24 * time.Hour, Mode: "sync", Timeout: 2 * time.Minute},
		NATS:      NATSConfig{URL: "nats://localhost:4222", Queue: "logbot-ingest"},
	}
}

// Load builds the configuration. dotenv files are loaded first (missing
// files are ignored), then the YAML file at path if it exists, then
// environment overrides. The result is validated.
func Load(path string, dotenv ...string) (Config, error) {
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) error {
	c.Server.Port = envOr("PORT", c.Server.Port)
	c.Server.CORSOrigin = envOr("CORS_ORIGIN", c.Server.CORSOrigin)
	c.Ollama.URL = envOr("OLLAMA_URL", c.Ollama.URL)
	c.Ollama.EmbedModel = envOr("EMBED_MODEL", c.Ollama.EmbedModel)
	c.Ollama.ChatModel = envOr("CHAT_MODEL", c.Ollama.ChatModel)
	c.Store.Backend = envOr("STORE_BACKEND", c.Store.Backend)
	c.Store.QdrantURL = envOr("QDRANT_URL", c.Store.QdrantURL)
	c.Store.Collection = envOr("QDRANT_COLLECTION", c.Store.Collection)
	c.Store.Neo4jURL = envOr("NEO4J_URL", c.Store.Neo4jURL)
	c.Store.Neo4jUser = envOr("NEO4J_USER", c.Store.Neo4jUser)
	c.Store.Neo4jPass = envOr("NEO4J_PASS", c.Store.Neo4jPass)
	c.Chunker.Strategy = envOr("CHUNKER_STRATEGY", c.Chunker.Strategy)
	c.Ingest.Mode = envOr("INGEST_MODE", c.Ingest.Mode)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)

	var err error
	if c.Store.VectorSize, err = envInt("VECTOR_SIZE", c.Store.VectorSize); err != nil {
		return err
	}
	if c.Ingest.Workers, err = envInt("INGEST_WORKERS", c.Ingest.Workers); err != nil {
		return err
	}
	if c.Retrieval.Threshold, err = envFloat("RETRIEVAL_THRESHOLD", c.Retrieval.Threshold); err != nil {
		return err
	}
	if c.Retrieval.Lambda, err = envFloat("MMR_LAMBDA", c.Retrieval.Lambda); err != nil {
		return err
	}
	if c.Ollama.EmbedRatePerSec, err = envFloat("EMBED_RATE", c.Ollama.EmbedRatePerSec); err != nil {
		return err
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: SESSION_TTL: %w", err)
		}
		c.Ingest.SessionTTL = d
	}
	return nil
}

// Validate rejects out-of-range tunables.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "qdrant", "neo4j", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want qdrant, neo4j or memory", c.Store.Backend))
	}
	switch c.Chunker.Strategy {
	case "structural", "semantic":
	default:
		errs = append(errs, fmt.Errorf("chunker.strategy %q: want structural or semantic", c.Chunker.Strategy))
	}
	switch c.Ingest.Mode {
	case "sync", "nats":
	default:
		errs = append(errs, fmt.Errorf("ingest.mode %q: want sync or nats", c.Ingest.Mode))
	}
	if c.Chunker.Percentile <= 0 || c.Chunker.Percentile > 100 {
		errs = append(errs, fmt.Errorf("chunker.percentile %v: want (0,100]", c.Chunker.Percentile))
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.threshold %v: want [0,1]", c.Retrieval.Threshold))
	}
	if c.Retrieval.Lambda < 0 || c.Retrieval.Lambda > 1 {
		errs = append(errs, fmt.Errorf("retrieval.lambda %v: want [0,1]", c.Retrieval.Lambda))
	}
	if c.Retrieval.K < 1 || c.Retrieval.CandidateLimit < 1 || c.Retrieval.RerankWidth < 0 {
		errs = append(errs, errors.New("retrieval: k and candidate_limit must be positive, rerank_width non-negative (0 disables reranking)"))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("ingest.workers %d: want >= 1", c.Ingest.Workers))
	}
	if c.Ingest.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("ingest.session_ttl %v: want > 0", c.Ingest.SessionTTL))
	}
	if c.Store.VectorSize < 1 {
		errs = append(errs, fmt.Errorf("store.vector_size %d: want >= 1", c.Store.VectorSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
