// Package vectordb provides vector store adapters.
// Both stores scan every candidate exactly; there is no approximate index.
package vectordb

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
)

// cosineSimilarity calculates cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rank orders results by score descending, breaking ties by lower chunk
// index and then file ID, and keeps at most k.
func rank(results []entities.RetrievalResult, k int) []entities.RetrievalResult {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Index != b.Chunk.Index {
			return a.Chunk.Index < b.Chunk.Index
		}
		return a.Chunk.FileID < b.Chunk.FileID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// checkChunks validates a batch before it is written.
func checkChunks(fileID string, chunks []entities.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, entities.Errorf(entities.KindStoreIntegrity, "insert", "no chunks for file %s", fileID)
	}
	dim := len(chunks[0].Embedding)
	for _, c := range chunks {
		if c.FileID != fileID {
			return 0, entities.Errorf(entities.KindStoreIntegrity, "insert", "chunk %s belongs to file %s, not %s", c.ID, c.FileID, fileID)
		}
		if len(c.Embedding) == 0 || len(c.Embedding) != dim {
			return 0, entities.Errorf(entities.KindStoreIntegrity, "insert", "chunk %d has dimension %d, expected %d", c.Index, len(c.Embedding), dim)
		}
	}
	return dim, nil
}
