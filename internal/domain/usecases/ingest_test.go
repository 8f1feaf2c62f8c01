package usecases

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/docrag/internal/adapters/vectordb"
	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
)

func newTestIngest(t *testing.T, parser ports.DocumentParser, embedder ports.EmbeddingService, store ports.VectorStore) *IngestUseCase {
	t.Helper()
	chunker, err := NewChunker(100, 20, 30)
	require.NoError(t, err)
	return NewIngestUseCase(parser, chunker, embedder, store, nil, nil, IngestConfig{})
}

func TestIngestUseCase_StoresChunks(t *testing.T) {
	store := vectordb.NewMemoryStore()
	uc := newTestIngest(t, &mockParser{}, &mockEmbedder{}, store)

	content := strings.Repeat("Go is a statically typed compiled language. ", 10)
	file, err := uc.Ingest(context.Background(), entities.Upload{Name: "go.txt", ContentType: "text/plain", Data: []byte(content)})
	require.NoError(t, err)

	assert.Equal(t, entities.StateStored, file.State)
	assert.Equal(t, entities.StatusProcessed, file.Status)
	assert.Greater(t, file.ChunkCount, 1)

	chunks, err := uc.Chunks(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, chunks, file.ChunkCount)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, file.ID, c.FileID)
		assert.Equal(t, "mock-embed", c.EmbeddingModel)
		assert.Equal(t, string([]rune(content)[c.StartOffset:c.EndOffset]), c.Text)
	}

	stored, err := uc.File(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateStored, stored.State)
}

func TestIngestUseCase_ChunkIDsAreDeterministic(t *testing.T) {
	store := vectordb.NewMemoryStore()
	uc := newTestIngest(t, &mockParser{}, &mockEmbedder{}, store)

	file, err := uc.Ingest(context.Background(), entities.Upload{Name: "a.txt", Data: []byte(strings.Repeat("word ", 60))})
	require.NoError(t, err)
	chunks, err := uc.Chunks(context.Background(), file.ID)
	require.NoError(t, err)

	ns := mustUUID(t, file.ID)
	for _, c := range chunks {
		assert.Equal(t, ChunkID(ns, c.Index), c.ID)
	}
}

func TestIngestUseCase_EmptyDocumentFails(t *testing.T) {
	store := vectordb.NewMemoryStore()
	uc := newTestIngest(t, &mockParser{}, &mockEmbedder{}, store)

	file, err := uc.Ingest(context.Background(), entities.Upload{Name: "empty.txt", Data: []byte("   \n ")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, entities.ErrEmptyDocument))

	stored, err := store.GetFile(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateFailed, stored.State)
	assert.Equal(t, entities.KindEmptyDocument, stored.ErrorKind)

	n, _ := store.ChunkCount(context.Background())
	assert.Zero(t, n)
}

func TestIngestUseCase_ParserErrorRecorded(t *testing.T) {
	store := vectordb.NewMemoryStore()
	parser := &mockParser{parseFn: func([]byte, string) (string, error) {
		return "", entities.Errorf(entities.KindUnsupportedFormat, "parse", "no parser for .exe")
	}}
	uc := newTestIngest(t, parser, &mockEmbedder{}, store)

	file, err := uc.Ingest(context.Background(), entities.Upload{Name: "tool.exe", Data: []byte("MZ")})
	assert.True(t, errors.Is(err, entities.ErrUnsupportedFormat))
	assert.Equal(t, entities.StatusFailed, file.Status)
	assert.Equal(t, entities.KindUnsupportedFormat, file.ErrorKind)
}

func TestIngestUseCase_EmbeddingFailureLeavesNoChunks(t *testing.T) {
	store := vectordb.NewMemoryStore()
	embedder := &mockEmbedder{embedFn: func(string) ([]float32, error) { return nil, errBackendDown }}
	uc := newTestIngest(t, &mockParser{}, embedder, store)

	file, err := uc.Ingest(context.Background(), entities.Upload{Name: "a.txt", Data: []byte("some text")})
	assert.True(t, errors.Is(err, entities.ErrModelUnavailable))

	stored, err := store.GetFile(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateFailed, stored.State)
	assert.Equal(t, entities.KindModelUnavailable, stored.ErrorKind)

	chunks, err := store.GetChunks(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestIngestUseCase_MixedDimensionsRejected(t *testing.T) {
	store := vectordb.NewMemoryStore()
	embedder := &mockEmbedder{embedFn: func(text string) ([]float32, error) {
		if strings.Contains(text, "odd") {
			return []float32{1, 2}, nil
		}
		return []float32{1, 2, 3}, nil
	}}
	uc := newTestIngest(t, &mockParser{}, embedder, store)

	text := strings.Repeat("even ", 30) + strings.Repeat("odd ", 30)
	_, err := uc.Ingest(context.Background(), entities.Upload{Name: "a.txt", Data: []byte(text)})
	assert.True(t, errors.Is(err, entities.ErrModelUnavailable))
}

func TestIngestUseCase_StoreFailureRecorded(t *testing.T) {
	store := &flakyStore{
		VectorStore: vectordb.NewMemoryStore(),
		insertErr:   errors.New("disk full"),
	}
	uc := newTestIngest(t, &mockParser{}, &mockEmbedder{}, store)

	file, err := uc.Ingest(context.Background(), entities.Upload{Name: "a.txt", Data: []byte("text")})
	require.Error(t, err)
	assert.Equal(t, entities.KindStoreIntegrity, file.ErrorKind)
}

func TestIngestUseCase_CancelledStillRecordsFailure(t *testing.T) {
	store := vectordb.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	embedder := &mockEmbedder{embedFn: func(string) ([]float32, error) {
		cancel()
		return nil, context.Canceled
	}}
	uc := newTestIngest(t, &mockParser{}, embedder, store)

	file, err := uc.Ingest(ctx, entities.Upload{Name: "a.txt", Data: []byte("text")})
	require.Error(t, err)

	stored, err := store.GetFile(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StateFailed, stored.State)
}

func TestIngestUseCase_RejectsOversizedUpload(t *testing.T) {
	store := vectordb.NewMemoryStore()
	chunker, err := NewChunker(100, 20, 30)
	require.NoError(t, err)
	uc := NewIngestUseCase(&mockParser{}, chunker, &mockEmbedder{}, store, nil, nil, IngestConfig{MaxFileBytes: 8})

	_, err = uc.Ingest(context.Background(), entities.Upload{Name: "big.txt", Data: []byte("more than eight bytes")})
	assert.True(t, errors.Is(err, entities.ErrInvalidInput))

	files, _ := store.ListFiles(context.Background())
	assert.Empty(t, files)
}

func TestIngestUseCase_IngestMany(t *testing.T) {
	store := vectordb.NewMemoryStore()
	uc := newTestIngest(t, &mockParser{}, &mockEmbedder{}, store)

	uploads := []entities.Upload{
		{Name: "a.txt", Data: []byte("alpha document")},
		{Name: "b.txt", Data: []byte("")},
		{Name: "c.txt", Data: []byte("gamma document")},
	}
	results := uc.IngestMany(context.Background(), uploads)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, entities.ErrEmptyDocument))
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "c.txt", results[2].Upload)

	n, err := store.ChunkCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngestUseCase_Delete(t *testing.T) {
	store := vectordb.NewMemoryStore()
	uc := newTestIngest(t, &mockParser{}, &mockEmbedder{}, store)

	file, err := uc.Ingest(context.Background(), entities.Upload{Name: "a.txt", Data: []byte("hello world")})
	require.NoError(t, err)

	require.NoError(t, uc.Delete(context.Background(), file.ID))

	_, err = uc.File(context.Background(), file.ID)
	assert.True(t, errors.Is(err, entities.ErrNotFound))
	assert.True(t, errors.Is(uc.Delete(context.Background(), file.ID), entities.ErrNotFound))
}
