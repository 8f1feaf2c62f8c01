package vectordb

import (
	"context"
	"sort"
	"sync"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// MemoryStore is an in-process vector store with the same semantics as
// SQLStore. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	files  map[string]*entities.File
	chunks map[string][]entities.Chunk // fileID -> chunks by index
	turns  []entities.ConversationTurn
	dim    int
}

// NewMemoryStore creates a new in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:  make(map[string]*entities.File),
		chunks: make(map[string][]entities.Chunk),
	}
}

func (s *MemoryStore) CreateFile(ctx context.Context, file *entities.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[file.ID]; ok {
		return entities.Errorf(entities.KindStoreIntegrity, "create file", "file %s already exists", file.ID)
	}
	f := *file
	s.files[f.ID] = &f
	return nil
}

func (s *MemoryStore) UpdateFileState(ctx context.Context, fileID string, state entities.IngestState, kind entities.ErrorKind, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return entities.Errorf(entities.KindNotFound, "update file", "file %s", fileID)
	}
	if !f.State.CanTransition(state) {
		return entities.Errorf(entities.KindStoreIntegrity, "update file", "illegal transition %s -> %s", f.State, state)
	}
	f.State = state
	f.Status = state.Status()
	f.ErrorKind = kind
	f.ErrorMessage = msg
	f.UpdatedAt = now()
	return nil
}

// Insert stores all chunks of a file and marks it stored. Nothing is
// written if any check fails.
func (s *MemoryStore) Insert(ctx context.Context, fileID string, chunks []entities.Chunk) error {
	dim, err := checkChunks(fileID, chunks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return entities.Errorf(entities.KindNotFound, "insert", "file %s", fileID)
	}
	if !f.State.CanTransition(entities.StateStored) {
		return entities.Errorf(entities.KindStoreIntegrity, "insert", "file %s is %s", fileID, f.State)
	}
	if s.dim != 0 && s.dim != dim {
		return entities.Errorf(entities.KindStoreIntegrity, "insert", "embedding dimension %d does not match store dimension %d", dim, s.dim)
	}

	stored := make([]entities.Chunk, len(chunks))
	copy(stored, chunks)
	sort.Slice(stored, func(i, j int) bool { return stored[i].Index < stored[j].Index })

	s.dim = dim
	s.chunks[fileID] = stored
	f.ChunkCount = len(stored)
	f.State = entities.StateStored
	f.Status = entities.StatusProcessed
	f.ErrorKind = ""
	f.ErrorMessage = ""
	f.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, vector []float32, k int, fileIDs []string) ([]entities.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || s.dim == 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, entities.Errorf(entities.KindStoreIntegrity, "search", "query dimension %d does not match store dimension %d", len(vector), s.dim)
	}

	var allowed map[string]bool
	if len(fileIDs) > 0 {
		allowed = make(map[string]bool, len(fileIDs))
		for _, id := range fileIDs {
			allowed[id] = true
		}
	}

	var results []entities.RetrievalResult
	for id, chunks := range s.chunks {
		f := s.files[id]
		if f == nil || f.State != entities.StateStored {
			continue
		}
		if allowed != nil && !allowed[id] {
			continue
		}
		for _, c := range chunks {
			score := cosineSimilarity(vector, c.Embedding)
			c.Embedding = nil
			results = append(results, entities.RetrievalResult{
				Chunk:    c,
				Score:    score,
				FileName: f.Name,
			})
		}
	}
	return rank(results, k), nil
}

func (s *MemoryStore) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[fileID]; !ok {
		return entities.Errorf(entities.KindNotFound, "delete file", "file %s", fileID)
	}
	delete(s.chunks, fileID)
	delete(s.files, fileID)
	if len(s.chunks) == 0 {
		s.dim = 0
	}
	return nil
}

func (s *MemoryStore) GetFile(ctx context.Context, fileID string) (*entities.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[fileID]
	if !ok {
		return nil, entities.Errorf(entities.KindNotFound, "get file", "file %s", fileID)
	}
	out := *f
	return &out, nil
}

func (s *MemoryStore) ListFiles(ctx context.Context) ([]entities.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]entities.File, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].UploadedAt.Equal(files[j].UploadedAt) {
			return files[i].UploadedAt.After(files[j].UploadedAt)
		}
		return files[i].ID < files[j].ID
	})
	return files, nil
}

func (s *MemoryStore) GetChunks(ctx context.Context, fileID string) ([]entities.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[fileID]; !ok {
		return nil, entities.Errorf(entities.KindNotFound, "get chunks", "file %s", fileID)
	}
	out := make([]entities.Chunk, len(s.chunks[fileID]))
	copy(out, s.chunks[fileID])
	return out, nil
}

func (s *MemoryStore) ChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for id, chunks := range s.chunks {
		if f := s.files[id]; f != nil && f.State == entities.StateStored {
			n += len(chunks)
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, turn entities.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, turn)
	return nil
}

func (s *MemoryStore) ListTurns(ctx context.Context, limit int) ([]entities.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entities.ConversationTurn
	for i := len(s.turns) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.turns[i])
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
