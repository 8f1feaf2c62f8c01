package embedding

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCache implements ports.EmbeddingCache in memory.
type mapCache struct {
	mu     sync.Mutex
	m      map[string][]float32
	getErr error
}

func (c *mapCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = vec
	return nil
}

// countingEmbedder implements ports.EmbeddingService and records inputs.
type countingEmbedder struct {
	mu     sync.Mutex
	inputs []string
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int { return 1 }
func (e *countingEmbedder) Model() string  { return "counting" }

func TestCached_ServesHits(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, &mapCache{m: map[string][]float32{}}, nil)

	first, err := c.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	second, err := c.EmbedBatch(context.Background(), []string{"bb", "ccc", "a"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1}, {2}}, first)
	assert.Equal(t, [][]float32{{2}, {3}, {1}}, second)
	assert.Equal(t, []string{"a", "bb", "ccc"}, inner.inputs)
}

func TestCached_BypassesBrokenCache(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, &mapCache{m: map[string][]float32{}, getErr: errors.New("redis down")}, nil)

	vec, err := c.Embed(context.Background(), "abcd")
	require.NoError(t, err)
	assert.Equal(t, []float32{4}, vec)
}

func TestCacheKey_DependsOnModel(t *testing.T) {
	assert.NotEqual(t, CacheKey("m1", "x"), CacheKey("m2", "x"))
	assert.Equal(t, CacheKey("m1", "x"), CacheKey("m1", "x"))
}

func TestRedisCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("DOCRAG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DOCRAG_TEST_REDIS_ADDR not set")
	}
	c, err := NewRedisCache(RedisConfig{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := CacheKey("test", t.Name())
	require.NoError(t, c.Set(ctx, key, []float32{0.5, -1}))

	vec, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5, -1}, vec)

	_, ok, err = c.Get(ctx, CacheKey("test", "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}
