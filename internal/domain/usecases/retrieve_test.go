package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/docrag/internal/adapters/vectordb"
	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

func seededRetriever(t *testing.T, embedder *mockEmbedder, cfg RetrieverConfig, docs ...string) *Retriever {
	t.Helper()
	store := vectordb.NewMemoryStore()
	ingest := newTestIngest(t, &mockParser{}, embedder, store)
	for i, d := range docs {
		_, err := ingest.Ingest(context.Background(), entities.Upload{Name: string(rune('a'+i)) + ".txt", Data: []byte(d)})
		require.NoError(t, err)
	}
	return NewRetriever(embedder, store, cfg)
}

func TestRetriever_SortedAndLimited(t *testing.T) {
	r := seededRetriever(t, &mockEmbedder{}, RetrieverConfig{},
		"red apples", "green apples", "blue sky", "apples apples apples", "grey sea", "apples")

	results, err := r.Retrieve(context.Background(), "apples", 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRetriever_DefaultAndMaxK(t *testing.T) {
	docs := make([]string, 8)
	for i := range docs {
		docs[i] = "same text"
	}
	r := seededRetriever(t, &mockEmbedder{}, RetrieverConfig{DefaultK: 2, MaxK: 4}, docs...)

	results, err := r.Retrieve(context.Background(), "same", 0, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = r.Retrieve(context.Background(), "same", 100, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestRetriever_MinScore(t *testing.T) {
	r := seededRetriever(t, &mockEmbedder{}, RetrieverConfig{MinScore: 0.5}, "alpha", "alpha beta gamma delta epsilon zeta")

	results, err := r.Retrieve(context.Background(), "alpha", 5, nil)
	require.NoError(t, err)
	for _, res := range results {
		assert.GreaterOrEqual(t, res.Score, 0.5)
	}
	require.NotEmpty(t, results)
	assert.Equal(t, "a.txt", results[0].FileName)
}

func TestRetriever_EmbeddingTimeout(t *testing.T) {
	embedder := &mockEmbedder{}
	r := seededRetriever(t, embedder, RetrieverConfig{EmbedTimeout: 10 * time.Millisecond}, "doc")
	embedder.embedFn = func(string) ([]float32, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, context.DeadlineExceeded
	}

	_, err := r.Retrieve(context.Background(), "doc", 1, nil)
	assert.True(t, errors.Is(err, entities.ErrModelUnavailable))
}

func TestRetriever_EmptyStore(t *testing.T) {
	embedder := &mockEmbedder{}
	r := NewRetriever(embedder, vectordb.NewMemoryStore(), RetrieverConfig{})

	_, err := r.Retrieve(context.Background(), "anything", 5, nil)
	assert.True(t, errors.Is(err, entities.ErrNoDocumentsIndexed))
	assert.Zero(t, embedder.calls)
}
