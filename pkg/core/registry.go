package core

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/embedder"
	"github.com/recallhq/recall-go/pkg/embedder/lexical"
	embedderopenai "github.com/recallhq/recall-go/pkg/embedder/openai"
	embedderqwen "github.com/recallhq/recall-go/pkg/embedder/qwen"
	"github.com/recallhq/recall-go/pkg/llm"
	llmanthropic "github.com/recallhq/recall-go/pkg/llm/anthropic"
	llmdeepseek "github.com/recallhq/recall-go/pkg/llm/deepseek"
	llmollama "github.com/recallhq/recall-go/pkg/llm/ollama"
	llmopenai "github.com/recallhq/recall-go/pkg/llm/openai"
	llmqwen "github.com/recallhq/recall-go/pkg/llm/qwen"
	"github.com/recallhq/recall-go/pkg/reranker"
	rerankerqwen "github.com/recallhq/recall-go/pkg/reranker/qwen"
	"github.com/recallhq/recall-go/pkg/storage"
	"github.com/recallhq/recall-go/pkg/storage/oceanbase"
	"github.com/recallhq/recall-go/pkg/storage/postgres"
	"github.com/recallhq/recall-go/pkg/storage/sqlite"
)

// Provider construction is table-driven: each provider name maps to an
// explicit constructor, so the set of supported providers is visible in
// one place and unknown names fail with the list of known ones.

var llmRegistry = map[string]func(LLMConfig) (llm.Provider, error){
	"openai": func(cfg LLMConfig) (llm.Provider, error) {
		return llmopenai.NewClient(&llmopenai.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	},
	"qwen": func(cfg LLMConfig) (llm.Provider, error) {
		return llmqwen.NewClient(&llmqwen.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	},
	"ollama": func(cfg LLMConfig) (llm.Provider, error) {
		return llmollama.NewClient(&llmollama.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	},
	"anthropic": func(cfg LLMConfig) (llm.Provider, error) {
		return llmanthropic.NewClient(&llmanthropic.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	},
	"deepseek": func(cfg LLMConfig) (llm.Provider, error) {
		return llmdeepseek.NewClient(&llmdeepseek.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	},
}

var embedderRegistry = map[string]func(EmbedderConfig) (embedder.Provider, error){
	"openai": func(cfg EmbedderConfig) (embedder.Provider, error) {
		return embedderopenai.NewClient(&embedderopenai.Config{
			APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Dimensions: cfg.Dimensions,
		})
	},
	"qwen": func(cfg EmbedderConfig) (embedder.Provider, error) {
		return embedderqwen.NewClient(&embedderqwen.Config{
			APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Dimensions: cfg.Dimensions,
		})
	},
}

var storeRegistry = map[string]func(VectorStoreConfig, int, *zap.Logger) (storage.VectorStore, error){
	"sqlite": func(cfg VectorStoreConfig, dims int, logger *zap.Logger) (storage.VectorStore, error) {
		return sqlite.NewClient(&sqlite.Config{
			DBPath:             cfg.DBPath,
			CollectionName:     cfg.CollectionName,
			EmbeddingModelDims: dims,
			Logger:             logger,
		})
	},
	"postgres": func(cfg VectorStoreConfig, dims int, logger *zap.Logger) (storage.VectorStore, error) {
		return postgres.NewClient(&postgres.Config{
			Host:               cfg.Host,
			Port:               cfg.Port,
			User:               cfg.User,
			Password:           cfg.Password,
			DBName:             cfg.DBName,
			CollectionName:     cfg.CollectionName,
			EmbeddingModelDims: dims,
			Logger:             logger,
		})
	},
	"oceanbase": func(cfg VectorStoreConfig, dims int, logger *zap.Logger) (storage.VectorStore, error) {
		return oceanbase.NewClient(&oceanbase.Config{
			Host:               cfg.Host,
			Port:               cfg.Port,
			User:               cfg.User,
			Password:           cfg.Password,
			DBName:             cfg.DBName,
			CollectionName:     cfg.CollectionName,
			EmbeddingModelDims: dims,
			Logger:             logger,
		})
	},
}

var rerankerRegistry = map[string]func(RerankerConfig) (reranker.Provider, error){
	"qwen": func(cfg RerankerConfig) (reranker.Provider, error) {
		return rerankerqwen.NewClient(&rerankerqwen.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	},
}

func buildLLM(cfg LLMConfig) (llm.Provider, error) {
	build, ok := llmRegistry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown llm provider %q (known: %s)",
			ErrInvalidConfig, cfg.Provider, registryKeys(llmRegistry))
	}
	return build(cfg)
}

func buildEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	build, ok := embedderRegistry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown embedder provider %q (known: %s)",
			ErrInvalidConfig, cfg.Provider, registryKeys(embedderRegistry))
	}
	return build(cfg)
}

func buildStore(cfg VectorStoreConfig, dims int, logger *zap.Logger) (storage.VectorStore, error) {
	build, ok := storeRegistry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown vector store provider %q (known: %s)",
			ErrInvalidConfig, cfg.Provider, registryKeys(storeRegistry))
	}
	store, err := build(cfg, dims, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return store, nil
}

// buildSparse returns nil when the sparse signal is disabled.
func buildSparse(cfg SparseConfig) (embedder.SparseProvider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "lexical":
		return lexical.New(cfg.VocabSize), nil
	default:
		return nil, fmt.Errorf("%w: unknown sparse provider %q (known: lexical, none)",
			ErrInvalidConfig, cfg.Provider)
	}
}

// buildReranker returns nil when reranking is disabled.
func buildReranker(cfg RerankerConfig) (reranker.Provider, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}
	build, ok := rerankerRegistry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown reranker provider %q (known: %s, none)",
			ErrInvalidConfig, cfg.Provider, registryKeys(rerankerRegistry))
	}
	return build(cfg)
}

func registryKeys[V any](m map[string]V) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
