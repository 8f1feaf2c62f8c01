package usecases

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/docrag/internal/adapters/vectordb"
	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
)

// fakeWatcher implements ports.FileWatcher with a channel the test drives.
type fakeWatcher struct {
	events chan ports.FileEvent
}

func (w *fakeWatcher) Watch(ctx context.Context, dir string) (<-chan ports.FileEvent, error) {
	return w.events, nil
}

func (w *fakeWatcher) Stop() error { return nil }

// diskLoader implements ports.DocumentLoader by reading the file as text.
type diskLoader struct{}

func (diskLoader) Load(ctx context.Context, path string) (*entities.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &entities.Upload{Name: filepath.Base(path), ContentType: "text/plain", Data: data, SourcePath: path}, nil
}

func TestWatchUseCase_IndexesExistingAndFollowsChanges(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.txt")
	require.NoError(t, os.WriteFile(existing, []byte("existing notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0, 1}, 0o644))

	store := vectordb.NewMemoryStore()
	ingest := newTestIngest(t, &mockParser{}, &mockEmbedder{}, store)
	watcher := &fakeWatcher{events: make(chan ports.FileEvent)}
	uc := NewWatchUseCase(watcher, diskLoader{}, ingest, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() { done <- uc.Run(ctx, dir) }()

	fresh := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("first version"), 0o644))
	watcher.events <- ports.FileEvent{Path: fresh, Operation: ports.FileCreated}

	require.NoError(t, os.WriteFile(fresh, []byte("second version"), 0o644))
	watcher.events <- ports.FileEvent{Path: fresh, Operation: ports.FileModified}

	watcher.events <- ports.FileEvent{Path: existing, Operation: ports.FileDeleted}
	close(watcher.events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}

	files, err := store.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "new.txt", files[0].Name)
	assert.Equal(t, fresh, files[0].SourcePath)

	chunks, err := store.GetChunks(context.Background(), files[0].ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "second version", chunks[0].Text)
}

func TestWatchUseCase_RestoresKnownPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	store := vectordb.NewMemoryStore()
	ingest := newTestIngest(t, &mockParser{}, &mockEmbedder{}, store)
	_, err := ingest.Ingest(context.Background(), entities.Upload{Name: "a.txt", Data: []byte("content"), SourcePath: path})
	require.NoError(t, err)

	watcher := &fakeWatcher{events: make(chan ports.FileEvent)}
	close(watcher.events)
	uc := NewWatchUseCase(watcher, diskLoader{}, ingest, nil)
	require.NoError(t, uc.Run(context.Background(), dir))

	files, err := store.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
