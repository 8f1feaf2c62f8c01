// Package usecases contains application business rules.
// Usecases orchestrate entities and depend on port interfaces; adapters are
// injected by the caller.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/keylock"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// DefaultMaxFileBytes caps a single upload when no limit is configured.
const DefaultMaxFileBytes = 50 << 20

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	MaxFileBytes int64
	Workers      int
}

// IngestUseCase drives a file through parse, chunk, embed and store.
type IngestUseCase struct {
	parser   ports.DocumentParser
	chunker  *Chunker
	embedder ports.EmbeddingService
	store    ports.VectorStore
	locks    *keylock.Registry
	log      *logger.Logger
	maxBytes int64
	workers  int
}

// NewIngestUseCase creates an IngestUseCase with injected dependencies.
func NewIngestUseCase(
	parser ports.DocumentParser,
	chunker *Chunker,
	embedder ports.EmbeddingService,
	store ports.VectorStore,
	locks *keylock.Registry,
	log *logger.Logger,
	cfg IngestConfig,
) *IngestUseCase {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if locks == nil {
		locks = keylock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &IngestUseCase{
		parser:   parser,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		locks:    locks,
		log:      log.With("component", "ingest"),
		maxBytes: cfg.MaxFileBytes,
		workers:  cfg.Workers,
	}
}

// Ingest processes one upload. The returned File reflects the final state;
// on failure it is returned together with the classified error.
func (uc *IngestUseCase) Ingest(ctx context.Context, up entities.Upload) (*entities.File, error) {
	if strings.TrimSpace(up.Name) == "" {
		return nil, entities.Errorf(entities.KindInvalidInput, "ingest", "file name is required")
	}
	if int64(len(up.Data)) > uc.maxBytes {
		return nil, entities.Errorf(entities.KindInvalidInput, "ingest",
			"%s is %d bytes, limit is %d", up.Name, len(up.Data), uc.maxBytes)
	}

	now := time.Now().UTC()
	file := &entities.File{
		ID:          uuid.NewString(),
		Name:        up.Name,
		ContentType: up.ContentType,
		Size:        int64(len(up.Data)),
		UploadedAt:  now,
		UpdatedAt:   now,
		State:       entities.StateReceived,
		Status:      entities.StatusPending,
		SourcePath:  up.SourcePath,
	}
	if err := uc.store.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("recording file %s: %w", up.Name, err)
	}

	start := time.Now()
	if err := uc.run(ctx, file, up); err != nil {
		uc.fail(ctx, file, err)
		uc.log.Warn("ingestion failed",
			"file_id", file.ID,
			"file", file.Name,
			"kind", file.ErrorKind,
			"error", err,
		)
		return file, err
	}

	uc.log.Info("file ingested",
		"file_id", file.ID,
		"file", file.Name,
		"chunks", file.ChunkCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return file, nil
}

func (uc *IngestUseCase) run(ctx context.Context, file *entities.File, up entities.Upload) error {
	if err := uc.transition(ctx, file, entities.StateParsing); err != nil {
		return err
	}
	text, err := uc.parser.Parse(ctx, up.Data, up.ContentType, up.Name)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", up.Name, err)
	}

	if err := uc.transition(ctx, file, entities.StateChunking); err != nil {
		return err
	}
	segments, err := uc.chunker.Split(text)
	if err != nil {
		return fmt.Errorf("chunking %s: %w", up.Name, err)
	}

	if err := uc.transition(ctx, file, entities.StateEmbedding); err != nil {
		return err
	}
	chunks, err := uc.embed(ctx, file.ID, segments)
	if err != nil {
		return err
	}

	unlock := uc.locks.Lock(file.ID)
	defer unlock()
	if err := uc.store.Insert(ctx, file.ID, chunks); err != nil {
		return fmt.Errorf("storing chunks of %s: %w", up.Name, err)
	}
	now := time.Now().UTC()
	file.State = entities.StateStored
	file.Status = entities.StatusProcessed
	file.ChunkCount = len(chunks)
	file.UpdatedAt = now
	return nil
}

func (uc *IngestUseCase) embed(ctx context.Context, fileID string, segments []Segment) ([]entities.Chunk, error) {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}

	vectors, err := uc.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if entities.KindOf(err) == "" {
			err = entities.E(entities.KindModelUnavailable, "embed", err)
		}
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(segments) {
		return nil, entities.Errorf(entities.KindModelUnavailable, "embed",
			"backend returned %d vectors for %d chunks", len(vectors), len(segments))
	}

	ns, err := uuid.Parse(fileID)
	if err != nil {
		ns = uuid.NameSpaceOID
	}
	dim := len(vectors[0])
	chunks := make([]entities.Chunk, len(segments))
	for i, s := range segments {
		if len(vectors[i]) == 0 || len(vectors[i]) != dim {
			return nil, entities.Errorf(entities.KindModelUnavailable, "embed",
				"chunk %d has dimension %d, expected %d", i, len(vectors[i]), dim)
		}
		chunks[i] = entities.Chunk{
			ID:             ChunkID(ns, s.Index),
			FileID:         fileID,
			Index:          s.Index,
			Text:           s.Text,
			StartOffset:    s.Start,
			EndOffset:      s.End,
			Embedding:      vectors[i],
			EmbeddingModel: uc.embedder.Model(),
		}
	}
	return chunks, nil
}

// ChunkID derives a stable chunk ID from its file and ordinal.
func ChunkID(fileNS uuid.UUID, index int) string {
	return uuid.NewSHA1(fileNS, []byte(strconv.Itoa(index))).String()
}

// transition validates and persists a state change before its work begins.
func (uc *IngestUseCase) transition(ctx context.Context, file *entities.File, to entities.IngestState) error {
	if !file.State.CanTransition(to) {
		return entities.Errorf(entities.KindStoreIntegrity, "ingest", "illegal transition %s -> %s", file.State, to)
	}
	if err := uc.store.UpdateFileState(ctx, file.ID, to, "", ""); err != nil {
		return fmt.Errorf("recording state %s: %w", to, err)
	}
	file.State = to
	file.Status = to.Status()
	file.UpdatedAt = time.Now().UTC()
	return nil
}

// fail records the failed state. It runs on a context detached from
// cancellation so an aborted request still leaves a terminal record.
func (uc *IngestUseCase) fail(ctx context.Context, file *entities.File, cause error) {
	kind := entities.KindOf(cause)
	switch {
	case kind != "":
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		kind = entities.KindModelUnavailable
	default:
		kind = entities.KindStoreIntegrity
	}

	file.State = entities.StateFailed
	file.Status = entities.StatusFailed
	file.ErrorKind = kind
	file.ErrorMessage = cause.Error()
	file.UpdatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := uc.store.UpdateFileState(ctx, file.ID, entities.StateFailed, kind, file.ErrorMessage); err != nil {
		uc.log.Error("recording failed state", "file_id", file.ID, "error", err)
	}
}

// IngestResult pairs a file with the outcome of its pipeline.
type IngestResult struct {
	Upload string
	File   *entities.File
	Err    error
}

// IngestMany runs independent pipelines concurrently. One failure does not
// stop the others.
func (uc *IngestUseCase) IngestMany(ctx context.Context, uploads []entities.Upload) []IngestResult {
	results := make([]IngestResult, len(uploads))
	var g errgroup.Group
	g.SetLimit(uc.workers)
	for i, up := range uploads {
		g.Go(func() error {
			file, err := uc.Ingest(ctx, up)
			results[i] = IngestResult{Upload: up.Name, File: file, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Delete removes a file and its chunks. It waits for queries citing the file.
func (uc *IngestUseCase) Delete(ctx context.Context, fileID string) error {
	unlock := uc.locks.Lock(fileID)
	defer unlock()
	if err := uc.store.DeleteFile(ctx, fileID); err != nil {
		return fmt.Errorf("deleting file %s: %w", fileID, err)
	}
	uc.log.Info("file deleted", "file_id", fileID)
	return nil
}

// Files lists every known file, including failed ones.
func (uc *IngestUseCase) Files(ctx context.Context) ([]entities.File, error) {
	return uc.store.ListFiles(ctx)
}

// File returns one file by ID.
func (uc *IngestUseCase) File(ctx context.Context, fileID string) (*entities.File, error) {
	return uc.store.GetFile(ctx, fileID)
}

// Chunks returns a file's chunks ordered by index.
func (uc *IngestUseCase) Chunks(ctx context.Context, fileID string) ([]entities.Chunk, error) {
	if _, err := uc.store.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	return uc.store.GetChunks(ctx, fileID)
}

// SupportedFormats lists the extensions the parser accepts.
func (uc *IngestUseCase) SupportedFormats() []string {
	return uc.parser.SupportedFormats()
}
