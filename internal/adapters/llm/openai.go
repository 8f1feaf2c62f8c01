package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// OpenAIAdapter implements ports.LLMService against /chat/completions.
type OpenAIAdapter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	log     *logger.Logger
}

// NewOpenAIAdapter creates a chat completions client. The API key is read from
// the environment variable named by cfg.APIKeyEnv.
func NewOpenAIAdapter(cfg OpenAIConfig, log *logger.Logger) *OpenAIAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return &OpenAIAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  key,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log.With("component", "llm", "backend", "openai"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		FinishReason *string     `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIAdapter) Name() string { return "openai/" + c.model }

func (c *OpenAIAdapter) call(ctx context.Context, prompt string, opts ports.GenerateOptions, stream bool) (*http.Response, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	data, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling chat completions: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("chat completions returned status %d: %s", resp.StatusCode, errorBody(resp.Body))
	}
	return resp, nil
}

// Generate produces a completion for prompt.
func (c *OpenAIAdapter) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	resp, err := c.call(ctx, prompt, opts, false)
	if err != nil {
		return "", entities.E(entities.KindSynthesisBackend, "openai generate", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", entities.E(entities.KindSynthesisBackend, "openai generate", fmt.Errorf("decoding response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", entities.Errorf(entities.KindSynthesisBackend, "openai generate", "response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateStream reads the server-sent event stream of a chat completion.
func (c *OpenAIAdapter) GenerateStream(ctx context.Context, prompt string, opts ports.GenerateOptions) (<-chan ports.StreamToken, error) {
	resp, err := c.call(ctx, prompt, opts, true)
	if err != nil {
		return nil, entities.E(entities.KindSynthesisBackend, "openai stream", err)
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
			line := strings.TrimSpace(scanner.Text())
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				ch <- ports.StreamToken{Done: true}
				return
			}

			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.log.Debug("skipping malformed stream event", "error", err)
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					ch <- ports.StreamToken{Content: choice.Delta.Content}
				}
			}
		}
		err := scanner.Err()
		if err == nil {
			err = fmt.Errorf("stream ended without [DONE]")
		}
		ch <- ports.StreamToken{Done: true, Error: entities.E(entities.KindSynthesisBackend, "openai stream", err)}
	}()
	return ch, nil
}
