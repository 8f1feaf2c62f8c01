package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// Cached wraps an EmbeddingService with a cache keyed by model and text
// digest. Cache failures are logged and bypassed.
type Cached struct {
	inner ports.EmbeddingService
	cache ports.EmbeddingCache
	log   *logger.Logger
}

func NewCached(inner ports.EmbeddingService, cache ports.EmbeddingCache, log *logger.Logger) *Cached {
	if log == nil {
		log = logger.Nop()
	}
	return &Cached{inner: inner, cache: cache, log: log.With("component", "embedding_cache")}
}

// CacheKey identifies the embedding of text under model.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch serves hits from the cache and sends only the misses to the
// wrapped service.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := c.inner.Model()
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, t := range texts {
		vec, ok, err := c.cache.Get(ctx, CacheKey(model, t))
		if err != nil {
			c.log.Warn("cache read failed", "error", err)
		}
		if ok && err == nil {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		if err := c.cache.Set(ctx, CacheKey(model, missTexts[j]), vec); err != nil {
			c.log.Warn("cache write failed", "error", err)
		}
	}
	c.log.Debug("embedded with cache", "hits", len(texts)-len(missTexts), "misses", len(missTexts))
	return out, nil
}

func (c *Cached) Dimension() int { return c.inner.Dimension() }

func (c *Cached) Model() string { return c.inner.Model() }
