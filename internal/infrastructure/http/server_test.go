package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/docrag/internal/adapters/parser"
	"github.com/0xcro3dile/docrag/internal/adapters/vectordb"
	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/domain/usecases"
	"github.com/0xcro3dile/docrag/internal/platform/keylock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// wordEmbedder hashes words into a bag-of-words vector.
type wordEmbedder struct{}

func (wordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 16)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,?!")))
		v[h.Sum32()%16]++
	}
	return v, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (wordEmbedder) Dimension() int { return 16 }
func (wordEmbedder) Model() string  { return "words" }

type fakeLLM struct {
	answer string
	err    error
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	return f.answer, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts ports.GenerateOptions) (<-chan ports.StreamToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan ports.StreamToken, 8)
	for _, w := range strings.SplitAfter(f.answer, " ") {
		ch <- ports.StreamToken{Content: w}
	}
	ch <- ports.StreamToken{Done: true}
	close(ch)
	return ch, nil
}

type fakeModels struct {
	pingErr error
	pulled  []string
}

func (m *fakeModels) ListModels(ctx context.Context) ([]entities.ModelInfo, error) {
	return []entities.ModelInfo{{Name: "llama3.2:latest", Size: 42}}, nil
}

func (m *fakeModels) PullModel(ctx context.Context, name string) error {
	m.pulled = append(m.pulled, name)
	return nil
}

func (m *fakeModels) Ping(ctx context.Context) error { return m.pingErr }

type testEnv struct {
	server *Server
	store  *vectordb.MemoryStore
	llm    *fakeLLM
	models *fakeModels
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := vectordb.NewMemoryStore()
	locks := keylock.New()
	chunker, err := usecases.NewChunker(200, 20, 40)
	require.NoError(t, err)

	llm := &fakeLLM{answer: "The warranty lasts two years [1]."}
	models := &fakeModels{}
	ingest := usecases.NewIngestUseCase(parser.NewDefault(parser.Options{}), chunker, wordEmbedder{}, store, locks, nil, usecases.IngestConfig{})
	retriever := usecases.NewRetriever(wordEmbedder{}, store, usecases.RetrieverConfig{})
	query := usecases.NewQueryUseCase(retriever, usecases.NewSynthesizer(llm, usecases.SynthesizerConfig{}), store, locks, nil)

	srv := NewServer(Deps{Query: query, Ingest: ingest, Store: store, Models: models}, Config{MaxUploadBytes: 1 << 20})
	return &testEnv{server: srv, store: store, llm: llm, models: models}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	fw.Write([]byte(content))
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/api/files", buf.Bytes(), mw.FormDataContentType())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestUploadAndListFiles(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload(t, "warranty.txt", "The warranty lasts two years from the date of purchase.")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	file := decode[entities.File](t, w)
	assert.Equal(t, entities.StatusProcessed, file.Status)
	assert.Equal(t, 1, file.ChunkCount)

	w = env.do(t, http.MethodGet, "/api/files", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct{ Files []entities.File }](t, w)
	require.Len(t, list.Files, 1)
	assert.Equal(t, file.ID, list.Files[0].ID)

	w = env.do(t, http.MethodGet, "/api/files/"+file.ID+"/chunks", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "embedding\":[")
}

func TestUploadUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload(t, "photo.png", "\x89PNG")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	env2 := decode[ErrorEnvelope](t, w)
	assert.Equal(t, string(entities.KindUnsupportedFormat), env2.Error.Code)
	require.NotNil(t, env2.File)
	assert.Equal(t, entities.StatusFailed, env2.File.Status)
}

func TestUploadEmptyDocument(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "blank.txt", "   \n\n  ")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(entities.KindEmptyDocument), decode[ErrorEnvelope](t, w).Error.Code)
}

func TestUploadMissingField(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/files", []byte("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAsk(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.upload(t, "warranty.txt", "The warranty lasts two years.").Code)

	w := env.do(t, http.MethodPost, "/api/ask", []byte(`{"question":"How long is the warranty?"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	answer := decode[entities.Answer](t, w)
	assert.Equal(t, "The warranty lasts two years [1].", answer.Answer)
	assert.True(t, answer.Grounded)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "warranty.txt", answer.Citations[0].FileName)

	w = env.do(t, http.MethodGet, "/api/history?limit=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[struct{ Turns []entities.ConversationTurn }](t, w)
	require.Len(t, hist.Turns, 1)
	assert.Equal(t, "How long is the warranty?", hist.Turns[0].Question)
}

func TestAskBeforeUpload(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/ask", []byte(`{"question":"anything?"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
	env2 := decode[ErrorEnvelope](t, w)
	assert.Equal(t, string(entities.KindNoDocumentsIndexed), env2.Error.Code)
	assert.Contains(t, env2.Error.Message, "upload")
}

func TestAskSynthesisFailureKeepsSources(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.upload(t, "warranty.txt", "The warranty lasts two years.").Code)
	env.llm.err = entities.E(entities.KindSynthesisBackend, "generate", errors.New("connection refused"))

	w := env.do(t, http.MethodPost, "/api/ask", []byte(`{"question":"warranty?"}`), "application/json")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode[ErrorEnvelope](t, w)
	assert.Equal(t, string(entities.KindSynthesisBackend), body.Error.Code)
	assert.Len(t, body.Sources, 1)
}

func TestAskStreamSynthesisFailureKeepsSources(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.upload(t, "warranty.txt", "The warranty lasts two years.").Code)
	env.llm.err = entities.E(entities.KindSynthesisBackend, "generate", errors.New("connection refused"))

	w := env.do(t, http.MethodGet, "/api/ask/stream?q=warranty", nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode[ErrorEnvelope](t, w)
	assert.Equal(t, string(entities.KindSynthesisBackend), body.Error.Code)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "warranty.txt", body.Sources[0].FileName)
}

func TestAskInvalidBody(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/ask", []byte(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAskStream(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.upload(t, "warranty.txt", "The warranty lasts two years.").Code)

	w := env.do(t, http.MethodGet, "/api/ask/stream?q=warranty", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	body := w.Body.String()
	assert.Contains(t, body, "event:sources")
	assert.Contains(t, body, "event:token")
	assert.Contains(t, body, "event:done")
	assert.Less(t, strings.Index(body, "event:sources"), strings.Index(body, "event:token"))
}

func TestAskStreamErrorBeforeEvents(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/ask/stream?q=warranty", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/ask/stream?q=x&k=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteFile(t *testing.T) {
	env := newTestEnv(t)
	file := decode[entities.File](t, env.upload(t, "a.txt", "alpha beta gamma"))

	w := env.do(t, http.MethodDelete, "/api/files/"+file.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/files/"+file.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/files/"+file.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModels(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/models", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "llama3.2:latest")

	w = env.do(t, http.MethodPost, "/api/models/pull", []byte(`{"name":"mistral"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"mistral"}, env.models.pulled)

	w = env.do(t, http.MethodPost, "/api/models/pull", []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])

	env.models.pingErr = errors.New("ollama down")
	w = env.do(t, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, w)["status"])
}

func TestStatusFor(t *testing.T) {
	cases := map[entities.ErrorKind]int{
		entities.KindUnsupportedFormat:  http.StatusUnsupportedMediaType,
		entities.KindCorruptDocument:    http.StatusUnprocessableEntity,
		entities.KindInvalidInput:       http.StatusBadRequest,
		entities.KindNoDocumentsIndexed: http.StatusNotFound,
		entities.KindModelUnavailable:   http.StatusServiceUnavailable,
		entities.KindSynthesisBackend:   http.StatusBadGateway,
		entities.KindStoreIntegrity:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(entities.E(kind, "op", nil)), kind)
	}
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
}
