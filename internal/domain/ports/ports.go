// Package ports defines interfaces for external dependencies.
// Usecases depend on these abstractions; adapters implement them.
package ports

import (
	"context"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// EmbeddingService maps text to fixed-dimension vectors.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one embedding per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the output dimension, or 0 until the first call.
	Dimension() int

	// Model identifies the embedding model (and version).
	Model() string
}

// EmbeddingCache stores vectors keyed by model and text digest.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32) error
}

// GenerateOptions are per-call generation parameters.
type GenerateOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// LLMService generates text from a language model.
type LLMService interface {
	// Generate produces a completion for prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream produces a streaming completion.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamToken, error)

	// Name identifies the backend for logs and answers.
	Name() string
}

// ModelManager is the model-management capability of a local inference backend.
type ModelManager interface {
	ListModels(ctx context.Context) ([]entities.ModelInfo, error)
	PullModel(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

// StreamToken represents a single token in a streaming LLM response.
type StreamToken struct {
	Content string
	Done    bool
	Error   error
}

// VectorStore persists files, chunks with embeddings and the conversation log.
type VectorStore interface {
	// CreateFile records a newly received file.
	CreateFile(ctx context.Context, file *entities.File) error

	// UpdateFileState durably records an ingestion state transition.
	UpdateFileState(ctx context.Context, fileID string, state entities.IngestState, kind entities.ErrorKind, msg string) error

	// Insert stores all chunks of a file and marks it stored, atomically.
	Insert(ctx context.Context, fileID string, chunks []entities.Chunk) error

	// SimilaritySearch returns at most k chunks by descending cosine similarity,
	// optionally restricted to fileIDs.
	SimilaritySearch(ctx context.Context, vector []float32, k int, fileIDs []string) ([]entities.RetrievalResult, error)

	// DeleteFile removes a file and all of its chunks, atomically.
	DeleteFile(ctx context.Context, fileID string) error

	GetFile(ctx context.Context, fileID string) (*entities.File, error)
	ListFiles(ctx context.Context) ([]entities.File, error)
	GetChunks(ctx context.Context, fileID string) ([]entities.Chunk, error)

	// ChunkCount returns the number of searchable chunks.
	ChunkCount(ctx context.Context) (int, error)

	AppendTurn(ctx context.Context, turn entities.ConversationTurn) error
	ListTurns(ctx context.Context, limit int) ([]entities.ConversationTurn, error)

	Ping(ctx context.Context) error
	Close() error
}

// DocumentParser extracts normalized text from raw document bytes.
type DocumentParser interface {
	// Parse returns plain text with paragraph breaks preserved as blank lines.
	Parse(ctx context.Context, data []byte, contentType, filename string) (string, error)

	// SupportedFormats returns the file extensions this parser handles.
	SupportedFormats() []string
}

// DocumentLoader reads a local file into an upload.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*entities.Upload, error)
}

// FileWatcher monitors a directory for changes.
type FileWatcher interface {
	// Watch starts monitoring the directory and emits events.
	Watch(ctx context.Context, dir string) (<-chan FileEvent, error)

	// Stop stops the watcher.
	Stop() error
}

// FileEvent represents a file system change.
type FileEvent struct {
	Path      string
	Operation FileOperation
}

// FileOperation is the type of file change.
type FileOperation int

const (
	FileCreated FileOperation = iota
	FileModified
	FileDeleted
)

func (op FileOperation) String() string {
	switch op {
	case FileCreated:
		return "created"
	case FileModified:
		return "modified"
	case FileDeleted:
		return "deleted"
	}
	return "unknown"
}
