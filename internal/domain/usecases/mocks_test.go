package usecases

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
)

// mockParser implements ports.DocumentParser for testing
type mockParser struct {
	parseFn func(data []byte, name string) (string, error)
}

func (m *mockParser) Parse(ctx context.Context, data []byte, contentType, filename string) (string, error) {
	if m.parseFn != nil {
		return m.parseFn(data, filename)
	}
	return string(data), nil
}

func (m *mockParser) SupportedFormats() []string { return []string{".txt", ".md"} }

// mockEmbedder implements ports.EmbeddingService for testing.
// It hashes words into a small bag-of-words vector so similar texts score high.
type mockEmbedder struct {
	dim     int
	embedFn func(text string) ([]float32, error)

	mu    sync.Mutex
	calls int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.embedFn != nil {
		return m.embedFn(text)
	}
	dim := m.dim
	if dim == 0 {
		dim = 16
	}
	v := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,?!")))
		v[h.Sum32()%uint32(dim)]++
	}
	return v, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		emb, err := m.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		result[i] = emb
	}
	return result, nil
}

func (m *mockEmbedder) Dimension() int { return m.dim }
func (m *mockEmbedder) Model() string  { return "mock-embed" }

// mockLLM implements ports.LLMService for testing
type mockLLM struct {
	response string
	err      error

	mu      sync.Mutex
	prompts []string
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.response != "" {
		return m.response, nil
	}
	return "mocked answer", nil
}

func (m *mockLLM) GenerateStream(ctx context.Context, prompt string, opts ports.GenerateOptions) (<-chan ports.StreamToken, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan ports.StreamToken, 3)
	go func() {
		defer close(ch)
		for _, w := range strings.SplitAfter(m.response, " ") {
			ch <- ports.StreamToken{Content: w}
		}
		ch <- ports.StreamToken{Done: true}
	}()
	return ch, nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// flakyStore fails selected operations of an embedded store.
type flakyStore struct {
	ports.VectorStore
	insertErr error
	turnErr   error
}

func (s *flakyStore) Insert(ctx context.Context, fileID string, chunks []entities.Chunk) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.VectorStore.Insert(ctx, fileID, chunks)
}

func (s *flakyStore) AppendTurn(ctx context.Context, turn entities.ConversationTurn) error {
	if s.turnErr != nil {
		return s.turnErr
	}
	return s.VectorStore.AppendTurn(ctx, turn)
}

var errBackendDown = errors.New("connection refused")
