// Package llm provides language-model adapters: Ollama, OpenAI-compatible
// chat completions and an ordered fallback chain.
// Clean Architecture: Adapters implementing ports.LLMService.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// OllamaConfig configures the Ollama generator.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaLLMAdapter implements ports.LLMService and ports.ModelManager using
// the Ollama API.
type OllamaLLMAdapter struct {
	baseURL string
	model   string
	client  *http.Client
	log     *logger.Logger
}

// NewOllamaLLMAdapter creates a new Ollama LLM adapter.
func NewOllamaLLMAdapter(cfg OllamaConfig, log *logger.Logger) *OllamaLLMAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OllamaLLMAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client: &http.Client{
			Timeout: cfg.Timeout, // Longer timeout for streaming
		},
		log: log.With("component", "llm", "backend", "ollama"),
	}
}

// ollamaGenerateRequest is the Ollama generate API request.
type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaGenerateResponse is the Ollama generate API response.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (a *OllamaLLMAdapter) Name() string { return "ollama/" + a.model }

func (a *OllamaLLMAdapter) request(prompt string, opts ports.GenerateOptions, stream bool) ollamaGenerateRequest {
	model := opts.Model
	if model == "" {
		model = a.model
	}
	return ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: stream,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			TopP:        0.9,
			NumPredict:  opts.MaxTokens,
		},
	}
}

func (a *OllamaLLMAdapter) post(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, errorBody(resp.Body))
	}
	return resp, nil
}

// Generate produces a completion for prompt.
func (a *OllamaLLMAdapter) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	resp, err := a.post(ctx, "/api/generate", a.request(prompt, opts, false))
	if err != nil {
		return "", entities.E(entities.KindSynthesisBackend, "ollama generate", err)
	}
	defer resp.Body.Close()

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", entities.E(entities.KindSynthesisBackend, "ollama generate", fmt.Errorf("decoding response: %w", err))
	}
	if genResp.Error != "" {
		return "", entities.Errorf(entities.KindSynthesisBackend, "ollama generate", "%s", genResp.Error)
	}
	return genResp.Response, nil
}

// GenerateStream produces a streaming response via Ollama's streaming API.
// The channel is closed after a token with Done set.
func (a *OllamaLLMAdapter) GenerateStream(ctx context.Context, prompt string, opts ports.GenerateOptions) (<-chan ports.StreamToken, error) {
	resp, err := a.post(ctx, "/api/generate", a.request(prompt, opts, true))
	if err != nil {
		return nil, entities.E(entities.KindSynthesisBackend, "ollama stream", err)
	}

	ch := make(chan ports.StreamToken, 100)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				ch <- ports.StreamToken{Done: true, Error: ctx.Err()}
				return
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				a.log.Debug("skipping malformed stream line", "error", err)
				continue
			}
			if chunk.Error != "" {
				ch <- ports.StreamToken{Done: true, Error: entities.Errorf(entities.KindSynthesisBackend, "ollama stream", "%s", chunk.Error)}
				return
			}

			ch <- ports.StreamToken{
				Content: chunk.Response,
				Done:    chunk.Done,
			}

			if chunk.Done {
				return
			}
		}

		err := scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		ch <- ports.StreamToken{Done: true, Error: entities.E(entities.KindSynthesisBackend, "ollama stream", err)}
	}()

	return ch, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

// ListModels returns the models installed on the Ollama server.
func (a *OllamaLLMAdapter) ListModels(ctx context.Context) ([]entities.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, entities.E(entities.KindModelUnavailable, "ollama list models", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, entities.Errorf(entities.KindModelUnavailable, "ollama list models", "status %d: %s", resp.StatusCode, errorBody(resp.Body))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, entities.E(entities.KindModelUnavailable, "ollama list models", fmt.Errorf("decoding response: %w", err))
	}
	models := make([]entities.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, entities.ModelInfo{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt})
	}
	return models, nil
}

type ollamaPullStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PullModel downloads name onto the Ollama server and blocks until done.
func (a *OllamaLLMAdapter) PullModel(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return entities.Errorf(entities.KindInvalidInput, "ollama pull", "model name is required")
	}
	resp, err := a.post(ctx, "/api/pull", map[string]any{"name": name, "stream": true})
	if err != nil {
		return entities.E(entities.KindModelUnavailable, "ollama pull", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	last := ""
	for scanner.Scan() {
		var st ollamaPullStatus
		if err := json.Unmarshal(scanner.Bytes(), &st); err != nil {
			continue
		}
		if st.Error != "" {
			return entities.Errorf(entities.KindModelUnavailable, "ollama pull", "%s", st.Error)
		}
		if st.Status != last {
			a.log.Debug("pull progress", "model", name, "status", st.Status)
			last = st.Status
		}
	}
	if err := scanner.Err(); err != nil {
		return entities.E(entities.KindModelUnavailable, "ollama pull", err)
	}
	if last != "success" {
		return entities.Errorf(entities.KindModelUnavailable, "ollama pull", "pull of %s ended with status %q", name, last)
	}
	a.log.Info("model pulled", "model", name)
	return nil
}

// Ping checks that the Ollama server answers.
func (a *OllamaLLMAdapter) Ping(ctx context.Context) error {
	_, err := a.ListModels(ctx)
	return err
}

func errorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	var e struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != nil {
		switch v := e.Error.(type) {
		case string:
			return v
		case map[string]any:
			if msg, ok := v["message"].(string); ok {
				return msg
			}
		}
	}
	return strings.TrimSpace(string(b))
}
