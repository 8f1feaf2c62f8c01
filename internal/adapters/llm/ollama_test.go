package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
)

func TestOllamaLLM_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, 0.1, req.Options.Temperature)
		assert.Equal(t, 500, req.Options.NumPredict)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"response": "Hello there!",
			"done":     true,
		})
	}))
	defer server.Close()

	adapter := NewOllamaLLMAdapter(OllamaConfig{BaseURL: server.URL, Model: "test-model"}, nil)
	resp, err := adapter.Generate(context.Background(), "Hi", ports.GenerateOptions{MaxTokens: 500, Temperature: 0.1})

	require.NoError(t, err)
	assert.Equal(t, "Hello there!", resp)
	assert.Equal(t, "ollama/test-model", adapter.Name())
}

func TestOllamaLLM_ModelOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{"response": req.Model, "done": true})
	}))
	defer server.Close()

	adapter := NewOllamaLLMAdapter(OllamaConfig{BaseURL: server.URL}, nil)
	resp, err := adapter.Generate(context.Background(), "Hi", ports.GenerateOptions{Model: "mistral"})
	require.NoError(t, err)
	assert.Equal(t, "mistral", resp)
}

func TestOllamaLLM_GenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Streaming response - newline delimited JSON
		w.Write([]byte(`{"response":"Hello","done":false}` + "\n"))
		w.Write([]byte(`{"response":" world","done":false}` + "\n"))
		w.Write([]byte(`{"response":"!","done":true}` + "\n"))
	}))
	defer server.Close()

	adapter := NewOllamaLLMAdapter(OllamaConfig{BaseURL: server.URL, Model: "test"}, nil)
	ch, err := adapter.GenerateStream(context.Background(), "test", ports.GenerateOptions{})
	require.NoError(t, err)

	var sb strings.Builder
	for token := range ch {
		require.NoError(t, token.Error)
		sb.WriteString(token.Content)
	}
	assert.Equal(t, "Hello world!", sb.String())
}

func TestOllamaLLM_StreamCutShort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"Hel","done":false}` + "\n"))
	}))
	defer server.Close()

	adapter := NewOllamaLLMAdapter(OllamaConfig{BaseURL: server.URL}, nil)
	ch, err := adapter.GenerateStream(context.Background(), "test", ports.GenerateOptions{})
	require.NoError(t, err)

	var last ports.StreamToken
	for token := range ch {
		last = token
	}
	assert.True(t, last.Done)
	assert.True(t, errors.Is(last.Error, entities.ErrSynthesisBackend))
}

func TestOllamaLLM_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'test' not found"}`))
	}))
	defer server.Close()

	adapter := NewOllamaLLMAdapter(OllamaConfig{BaseURL: server.URL, Model: "test"}, nil)
	_, err := adapter.Generate(context.Background(), "test", ports.GenerateOptions{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, entities.ErrSynthesisBackend))
	assert.Contains(t, err.Error(), "not found")
}

func TestOllamaLLM_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3.2:latest","size":2019393189,"modified_at":"2024-10-01T10:00:00Z"},{"name":"nomic-embed-text:latest","size":274302450}]}`))
	}))
	defer server.Close()

	adapter := NewOllamaLLMAdapter(OllamaConfig{BaseURL: server.URL}, nil)
	models, err := adapter.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.2:latest", models[0].Name)
	assert.Equal(t, int64(2019393189), models[0].Size)
	assert.NoError(t, adapter.Ping(context.Background()))
}

func TestOllamaLLM_PingUnreachable(t *testing.T) {
	adapter := NewOllamaLLMAdapter(OllamaConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	err := adapter.Ping(context.Background())
	assert.True(t, errors.Is(err, entities.ErrModelUnavailable))
}

func TestOllamaLLM_PullModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pull", r.URL.Path)
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] == "missing" {
			w.Write([]byte(`{"error":"pull model manifest: file does not exist"}` + "\n"))
			return
		}
		w.Write([]byte(`{"status":"pulling manifest"}` + "\n"))
		w.Write([]byte(`{"status":"verifying sha256 digest"}` + "\n"))
		w.Write([]byte(`{"status":"success"}` + "\n"))
	}))
	defer server.Close()

	adapter := NewOllamaLLMAdapter(OllamaConfig{BaseURL: server.URL}, nil)
	assert.NoError(t, adapter.PullModel(context.Background(), "llama3.2"))

	err := adapter.PullModel(context.Background(), "missing")
	assert.True(t, errors.Is(err, entities.ErrModelUnavailable))

	err = adapter.PullModel(context.Background(), " ")
	assert.True(t, errors.Is(err, entities.ErrInvalidInput))
}

func TestOllamaLLM_DefaultValues(t *testing.T) {
	adapter := NewOllamaLLMAdapter(OllamaConfig{}, nil)
	if adapter.baseURL != "http://localhost:11434" {
		t.Error("should default to localhost")
	}
	if adapter.model != "llama3.2" {
		t.Error("should default to llama3.2")
	}
}
