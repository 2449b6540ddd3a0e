package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/recallhq/recall-go/pkg/logging"
)

// Config assembles every component of the service. It loads from YAML or
// JSON, with RECALL_* environment variables overriding file values.
type Config struct {
	Logging      logging.Config     `yaml:"logging" json:"logging"`
	LLM          LLMConfig          `yaml:"llm" json:"llm"`
	Embedder     EmbedderConfig     `yaml:"embedder" json:"embedder"`
	Sparse       SparseConfig       `yaml:"sparse" json:"sparse"`
	Reranker     RerankerConfig     `yaml:"reranker" json:"reranker"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store" json:"vector_store"`
	Intelligence IntelligenceConfig `yaml:"intelligence" json:"intelligence"`
	Server       ServerConfig       `yaml:"server" json:"server"`
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	// Provider is openai, anthropic, qwen, deepseek, or ollama.
	Provider string `yaml:"provider" json:"provider"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Model    string `yaml:"model" json:"model"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
}

// EmbedderConfig selects and configures the dense embedding provider.
type EmbedderConfig struct {
	// Provider is openai or qwen.
	Provider string `yaml:"provider" json:"provider"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Model    string `yaml:"model" json:"model"`
	BaseURL  string `yaml:"base_url" json:"base_url"`

	// Dimensions must match the collection schema.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
}

// SparseConfig configures the sparse signal. Provider "lexical" runs the
// built-in hashed embedder; "none" disables sparse retrieval.
type SparseConfig struct {
	Provider  string `yaml:"provider" json:"provider"`
	VocabSize int    `yaml:"vocab_size" json:"vocab_size"`
}

// RerankerConfig configures the optional reranking stage. Provider "none"
// disables it.
type RerankerConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	APIKey   string `yaml:"api_key" json:"api_key"`
	Model    string `yaml:"model" json:"model"`
	BaseURL  string `yaml:"base_url" json:"base_url"`

	// CandidateMultiplier controls how many candidates feed the reranker,
	// as a multiple of the requested limit. Defaults to 3.
	CandidateMultiplier int `yaml:"candidate_multiplier" json:"candidate_multiplier"`
}

// VectorStoreConfig selects and configures the storage backend.
type VectorStoreConfig struct {
	// Provider is sqlite, postgres, or oceanbase.
	Provider string `yaml:"provider" json:"provider"`

	// CollectionName is the table name. Defaults to "memories".
	CollectionName string `yaml:"collection_name" json:"collection_name"`

	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path" json:"db_path"`

	// Network backends.
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	DBName   string `yaml:"db_name" json:"db_name"`
}

// IntelligenceConfig tunes the ingest pipeline and decay scoring.
type IntelligenceConfig struct {
	// InferDefault is the default for Add's infer flag.
	InferDefault *bool `yaml:"infer_default" json:"infer_default"`

	// ExtractionPrompt overrides the fact extraction system prompt.
	ExtractionPrompt string `yaml:"extraction_prompt" json:"extraction_prompt"`

	// ReconcilePrompt overrides the reconcile prompt.
	ReconcilePrompt string `yaml:"reconcile_prompt" json:"reconcile_prompt"`

	// NeighborLimit is how many similar memories feed each reconcile
	// decision. Defaults to 5.
	NeighborLimit int `yaml:"neighbor_limit" json:"neighbor_limit"`

	// DecayEnabled turns on Ebbinghaus rescoring of search results.
	DecayEnabled bool `yaml:"decay_enabled" json:"decay_enabled"`

	// DecayRate and Reinforcement tune the forgetting curve.
	DecayRate     float64 `yaml:"decay_rate" json:"decay_rate"`
	Reinforcement float64 `yaml:"reinforcement" json:"reinforcement"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr defaults to ":8080".
	Addr string `yaml:"addr" json:"addr"`

	// APIKeys are the accepted X-API-Key values. Empty disables auth.
	APIKeys []string `yaml:"api_keys" json:"api_keys"`

	// RateLimit is requests per second per client. Zero disables.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// RateBurst is the burst size for the limiter. Defaults to 2x rate.
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// DefaultConfig returns a config that runs entirely self-hosted: SQLite
// storage, lexical sparse, no reranker.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{Level: "info", Format: "json"},
		LLM:     LLMConfig{Provider: "openai"},
		Embedder: EmbedderConfig{
			Provider:   "openai",
			Dimensions: 1536,
		},
		Sparse:   SparseConfig{Provider: "lexical"},
		Reranker: RerankerConfig{Provider: "none"},
		VectorStore: VectorStoreConfig{
			Provider:       "sqlite",
			CollectionName: "memories",
			DBPath:         "recall.db",
		},
		Intelligence: IntelligenceConfig{
			NeighborLimit: 5,
			DecayRate:     0.1,
			Reinforcement: 0.3,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// LoadConfig reads a YAML or JSON file (picked by extension), then applies
// environment overrides. An empty path loads defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
			}
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromEnv builds a config purely from the environment, loading a
// .env file first when one exists in the working directory.
func LoadConfigFromEnv() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	return LoadConfig("")
}

// applyEnv overlays RECALL_* environment variables.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&c.Logging.Level, "RECALL_LOG_LEVEL")
	setStr(&c.Logging.Format, "RECALL_LOG_FORMAT")

	setStr(&c.LLM.Provider, "RECALL_LLM_PROVIDER")
	setStr(&c.LLM.APIKey, "RECALL_LLM_API_KEY")
	setStr(&c.LLM.Model, "RECALL_LLM_MODEL")
	setStr(&c.LLM.BaseURL, "RECALL_LLM_BASE_URL")

	setStr(&c.Embedder.Provider, "RECALL_EMBEDDER_PROVIDER")
	setStr(&c.Embedder.APIKey, "RECALL_EMBEDDER_API_KEY")
	setStr(&c.Embedder.Model, "RECALL_EMBEDDER_MODEL")
	setStr(&c.Embedder.BaseURL, "RECALL_EMBEDDER_BASE_URL")
	setInt(&c.Embedder.Dimensions, "RECALL_EMBEDDER_DIMS")

	setStr(&c.Reranker.Provider, "RECALL_RERANKER_PROVIDER")
	setStr(&c.Reranker.APIKey, "RECALL_RERANKER_API_KEY")
	setStr(&c.Reranker.Model, "RECALL_RERANKER_MODEL")

	setStr(&c.VectorStore.Provider, "RECALL_STORE_PROVIDER")
	setStr(&c.VectorStore.CollectionName, "RECALL_STORE_COLLECTION")
	setStr(&c.VectorStore.DBPath, "RECALL_STORE_DB_PATH")
	setStr(&c.VectorStore.Host, "RECALL_STORE_HOST")
	setInt(&c.VectorStore.Port, "RECALL_STORE_PORT")
	setStr(&c.VectorStore.User, "RECALL_STORE_USER")
	setStr(&c.VectorStore.Password, "RECALL_STORE_PASSWORD")
	setStr(&c.VectorStore.DBName, "RECALL_STORE_DB_NAME")

	setStr(&c.Server.Addr, "RECALL_SERVER_ADDR")
	if v := os.Getenv("RECALL_API_KEY"); v != "" {
		c.Server.APIKeys = strings.Split(v, ",")
	}
}

// Validate checks the config can build a client.
func (c *Config) Validate() error {
	if c.Embedder.Dimensions <= 0 {
		return fmt.Errorf("%w: embedder dimensions must be positive", ErrInvalidConfig)
	}
	if c.VectorStore.CollectionName == "" {
		return fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	}
	if !validIdentifier(c.VectorStore.CollectionName) {
		return fmt.Errorf("%w: collection name %q is not a valid identifier",
			ErrInvalidConfig, c.VectorStore.CollectionName)
	}

	switch c.VectorStore.Provider {
	case "sqlite":
		if c.VectorStore.DBPath == "" {
			return fmt.Errorf("%w: sqlite requires db_path", ErrInvalidConfig)
		}
	case "postgres", "oceanbase":
		if c.VectorStore.Host == "" || c.VectorStore.DBName == "" {
			return fmt.Errorf("%w: %s requires host and db_name", ErrInvalidConfig, c.VectorStore.Provider)
		}
	default:
		return fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}

	if c.Intelligence.NeighborLimit <= 0 {
		c.Intelligence.NeighborLimit = 5
	}
	return nil
}

// validIdentifier guards table names interpolated into SQL.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
