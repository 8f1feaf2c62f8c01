package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
)

// RetrieverConfig tunes retrieval.
type RetrieverConfig struct {
	DefaultK     int
	MaxK         int
	MinScore     float64
	EmbedTimeout time.Duration
}

// Retriever finds the chunks most similar to a question.
type Retriever struct {
	embedder ports.EmbeddingService
	store    ports.VectorStore
	cfg      RetrieverConfig
}

func NewRetriever(embedder ports.EmbeddingService, store ports.VectorStore, cfg RetrieverConfig) *Retriever {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 5
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = 50
	}
	if cfg.DefaultK > cfg.MaxK {
		cfg.DefaultK = cfg.MaxK
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg}
}

// Retrieve embeds the question and returns at most k results, most similar
// first. A non-positive k selects the default. fileIDs optionally restricts
// the search.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, fileIDs []string) ([]entities.RetrievalResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, entities.Errorf(entities.KindInvalidInput, "retrieve", "question is empty")
	}
	if k <= 0 {
		k = r.cfg.DefaultK
	}
	if k > r.cfg.MaxK {
		k = r.cfg.MaxK
	}

	count, err := r.store.ChunkCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}
	if count == 0 {
		return nil, entities.Errorf(entities.KindNoDocumentsIndexed, "retrieve", "no documents have been indexed yet")
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	defer cancel()
	vec, err := r.embedder.Embed(embedCtx, question)
	if err != nil {
		if entities.KindOf(err) == "" || errors.Is(err, context.DeadlineExceeded) {
			err = entities.E(entities.KindModelUnavailable, "embed question", err)
		}
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	results, err := r.store.SimilaritySearch(ctx, vec, k, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	kept := results[:0]
	for _, res := range results {
		if res.Score >= r.cfg.MinScore {
			kept = append(kept, res)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	return kept, nil
}
