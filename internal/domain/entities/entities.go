// Package entities contains core business entities.
// These are pure domain objects with no knowledge of storage or transport.
package entities

import "time"

// FileStatus is the coarse processing status reported for an uploaded file.
type FileStatus string

const (
	StatusPending   FileStatus = "pending"
	StatusProcessed FileStatus = "processed"
	StatusFailed    FileStatus = "failed"
)

// File represents one uploaded document.
// It is owned by the ingestion pipeline while processing and referenced by its
// chunks afterwards.
type File struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	ContentType  string      `json:"content_type"`
	Size         int64       `json:"size"`
	UploadedAt   time.Time   `json:"uploaded_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Status       FileStatus  `json:"status"`
	State        IngestState `json:"state"`
	ErrorKind    ErrorKind   `json:"error_kind,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	ChunkCount   int         `json:"chunk_count"`
	SourcePath   string      `json:"source_path,omitempty"`
}

// Chunk is one retrievable text segment of a file.
// Offsets are character (rune) offsets into the parsed text, half-open.
type Chunk struct {
	ID             string    `json:"id"`
	FileID         string    `json:"file_id"`
	Index          int       `json:"index"`
	Text           string    `json:"text"`
	StartOffset    int       `json:"start_offset"`
	EndOffset      int       `json:"end_offset"`
	Embedding      []float32 `json:"-"` // write-once
	EmbeddingModel string    `json:"embedding_model,omitempty"`
}

// RetrievalResult is a scored chunk produced for a single query.
type RetrievalResult struct {
	Chunk    Chunk   `json:"chunk"`
	Score    float64 `json:"score"`
	FileName string  `json:"file_name"`
}

// ConversationTurn is one question/answer exchange in the append-only history.
type ConversationTurn struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	CitedChunkIDs []string  `json:"cited_chunk_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// Answer is the structured result of a question.
// Citations are the chunks that were placed in the prompt; Sources are every
// chunk the retriever returned.
type Answer struct {
	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	Citations  []RetrievalResult `json:"citations"`
	Sources    []RetrievalResult `json:"sources"`
	Confidence float64           `json:"confidence"`
	Grounded   bool              `json:"grounded"`
	Model      string            `json:"model,omitempty"`
}

// Upload is raw file content handed to the ingestion pipeline.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
	SourcePath  string
}

// ModelInfo describes a model available on a language-model backend.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}
