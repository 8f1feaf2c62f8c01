// Package embedding provides embedding adapters.
// Adapters implement ports.EmbeddingService; they know about backend
// specifics but the domain layer doesn't.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// OllamaConfig configures the Ollama embedding adapter.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	BatchSize   int
	Concurrency int
}

// OllamaAdapter implements ports.EmbeddingService using the Ollama API.
type OllamaAdapter struct {
	baseURL string
	model   string
	client  *http.Client
	batches batcher
	dim     dimension
	log     *logger.Logger
}

// NewOllamaAdapter creates a new Ollama embedding adapter.
func NewOllamaAdapter(cfg OllamaConfig, log *logger.Logger) *OllamaAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OllamaAdapter{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		batches: newBatcher(cfg.BatchSize, cfg.Concurrency),
		log:     log.With("component", "embedding", "backend", "ollama", "model", cfg.Model),
	}
}

// ollamaEmbedRequest is the Ollama API request format.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the Ollama API response format.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed generates an embedding for a single text.
func (a *OllamaAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, in order. Large inputs
// are split into batches that are sent concurrently.
func (a *OllamaAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := a.batches.run(ctx, texts, a.embed)
	if err != nil {
		return nil, entities.E(entities.KindModelUnavailable, "ollama embed", err)
	}
	if err := a.dim.check(vecs); err != nil {
		return nil, entities.E(entities.KindModelUnavailable, "ollama embed", err)
	}
	return vecs, nil
}

func (a *OllamaAdapter) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	jsonData, err := json.Marshal(ollamaEmbedRequest{Model: a.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Ollama: %w", err)
	}
	defer resp.Body.Close()

	var embedResp ollamaEmbedResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&embedResp)
	if resp.StatusCode != http.StatusOK {
		if embedResp.Error != "" {
			return nil, fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, embedResp.Error)
		}
		return nil, fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding response: %w", decodeErr)
	}
	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("Ollama returned %d embeddings for %d inputs", len(embedResp.Embeddings), len(texts))
	}

	a.log.Debug("embedded batch", "inputs", len(texts), "duration_ms", time.Since(start).Milliseconds())
	return embedResp.Embeddings, nil
}

// Dimension returns the vector size seen so far, or 0 before the first call.
func (a *OllamaAdapter) Dimension() int { return a.dim.get() }

// Model returns the embedding model name.
func (a *OllamaAdapter) Model() string { return "ollama/" + a.model }
