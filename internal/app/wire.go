package app

import (
	"fmt"

	"github.com/0xcro3dile/docrag/internal/adapters/embedding"
	"github.com/0xcro3dile/docrag/internal/adapters/llm"
	"github.com/0xcro3dile/docrag/internal/adapters/vectordb"
	"github.com/0xcro3dile/docrag/internal/config"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

func wireStore(cfg config.StoreConfig) (ports.VectorStore, error) {
	switch cfg.Driver {
	case "memory":
		return vectordb.NewMemoryStore(), nil
	case "sqlite3", "":
		if cfg.DSN != "" {
			return vectordb.NewSQLStore("sqlite3", cfg.DSN)
		}
		return vectordb.NewSQLiteStore(cfg.DataDir)
	case "pgx":
		return vectordb.NewSQLStore("pgx", cfg.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// wireEmbedder returns the embedder and, when caching is on, the cache to close.
func wireEmbedder(cfg config.Config, log *logger.Logger) (ports.EmbeddingService, *embedding.RedisCache, error) {
	e := cfg.Embedding
	var svc ports.EmbeddingService
	switch e.Backend {
	case "ollama":
		svc = embedding.NewOllamaAdapter(embedding.OllamaConfig{
			BaseURL:     e.BaseURL,
			Model:       e.Model,
			Timeout:     e.Timeout,
			BatchSize:   e.BatchSize,
			Concurrency: e.Concurrency,
		}, log)
	case "openai":
		svc = embedding.NewOpenAIAdapter(embedding.OpenAIConfig{
			BaseURL:     e.BaseURL,
			APIKeyEnv:   e.APIKeyEnv,
			Model:       e.Model,
			Timeout:     e.Timeout,
			BatchSize:   e.BatchSize,
			Concurrency: e.Concurrency,
			MaxRetries:  e.MaxRetries,
		}, log)
	default:
		return nil, nil, fmt.Errorf("unknown embedding backend %q", e.Backend)
	}

	if cfg.Cache.Backend != "redis" {
		return svc, nil, nil
	}
	cache, err := embedding.NewRedisCache(embedding.RedisConfig{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		TTL:      cfg.Cache.TTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return embedding.NewCached(svc, cache, log), cache, nil
}

// wireLLM builds the fallback chain in llm.backends order. The Ollama backend,
// when present, also serves model management.
func wireLLM(cfg config.LLMConfig, log *logger.Logger) (ports.LLMService, ports.ModelManager, error) {
	var (
		backends []ports.LLMService
		models   ports.ModelManager
	)
	for _, name := range cfg.Backends {
		switch name {
		case "ollama":
			o := llm.NewOllamaLLMAdapter(llm.OllamaConfig{
				BaseURL: cfg.BaseURL,
				Model:   cfg.Model,
				Timeout: cfg.Timeout,
			}, log)
			backends = append(backends, o)
			if models == nil {
				models = o
			}
		case "openai":
			backends = append(backends, llm.NewOpenAIAdapter(llm.OpenAIConfig{
				BaseURL:   cfg.OpenAI.BaseURL,
				APIKeyEnv: cfg.OpenAI.APIKeyEnv,
				Model:     cfg.OpenAI.Model,
				Timeout:   cfg.Timeout,
			}, log))
		default:
			return nil, nil, fmt.Errorf("unknown llm backend %q", name)
		}
	}
	if len(backends) == 0 {
		return nil, nil, fmt.Errorf("no llm backends configured")
	}
	if len(backends) == 1 {
		return backends[0], models, nil
	}
	return llm.NewChain(log, backends...), models, nil
}
