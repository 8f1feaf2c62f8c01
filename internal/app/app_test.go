package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/docrag/internal/adapters/llm"
	"github.com/0xcro3dile/docrag/internal/adapters/vectordb"
	"github.com/0xcro3dile/docrag/internal/config"
)

func TestNew_MemoryStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "memory"

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &vectordb.MemoryStore{}, a.Store)
	assert.Equal(t, "ollama/nomic-embed-text", a.Embedder.Model())
	assert.Equal(t, "ollama/llama3.2", a.LLM.Name())
	assert.NotNil(t, a.Models)
	assert.Contains(t, a.Ingest.SupportedFormats(), ".pdf")
	assert.NotNil(t, a.Server().Handler())
}

func TestNew_SQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.DataDir = t.TempDir()

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Store.Ping(context.Background()))
	n, err := a.Store.ChunkCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWireLLM_ChainOrder(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Backends = []string{"openai", "ollama"}

	svc, models, err := wireLLM(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &llm.Chain{}, svc)
	assert.Equal(t, "openai/gpt-4o-mini,ollama/llama3.2", svc.Name())
	assert.NotNil(t, models)
}

func TestWireLLM_OpenAIOnlyHasNoModelManager(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Backends = []string{"openai"}

	_, models, err := wireLLM(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, models)
}

func TestWireStore_Unknown(t *testing.T) {
	_, err := wireStore(config.StoreConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestWireEmbedder_OpenAI(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.Backend = "openai"
	cfg.Embedding.Model = "text-embedding-3-small"

	svc, cache, err := wireEmbedder(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, cache)
	assert.Equal(t, "openai/text-embedding-3-small", svc.Model())
}
