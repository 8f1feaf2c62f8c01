package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
)

// SystemPrompt instructs the model to stay within the supplied context.
const SystemPrompt = "You are a helpful assistant that answers questions based on the provided context. " +
	"Use only the information from the context to answer questions. " +
	"If the context doesn't contain enough information to answer the question, say so clearly. " +
	"Be concise and accurate in your responses. " +
	"Cite sources by their bracketed numbers."

// NoResultsAnswer is returned without a model call when retrieval found nothing.
const NoResultsAnswer = "I could not find anything relevant to this question in the uploaded documents."

// SynthesizerConfig tunes prompt assembly and generation.
type SynthesizerConfig struct {
	MaxContextChars int
	Timeout         time.Duration
	Generate        ports.GenerateOptions
}

// Synthesis is a generated answer and the chunks its prompt contained.
type Synthesis struct {
	Answer    string
	Citations []entities.RetrievalResult
	Prompt    string
	Model     string
}

// Synthesizer turns retrieved chunks and a question into an answer.
type Synthesizer struct {
	llm ports.LLMService
	cfg SynthesizerConfig
}

func NewSynthesizer(llm ports.LLMService, cfg SynthesizerConfig) *Synthesizer {
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 8000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Generate.MaxTokens <= 0 {
		cfg.Generate.MaxTokens = 500
	}
	return &Synthesizer{llm: llm, cfg: cfg}
}

// Synthesize builds the prompt and calls the model. With no results the model
// is not called and the answer carries no citations.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, results []entities.RetrievalResult) (*Synthesis, error) {
	prompt, cited := s.BuildPrompt(question, results)
	if len(cited) == 0 {
		return &Synthesis{Answer: NoResultsAnswer}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	answer, err := s.llm.Generate(ctx, prompt, s.cfg.Generate)
	if err != nil {
		return nil, classify("generate", err)
	}
	return &Synthesis{
		Answer:    strings.TrimSpace(answer),
		Citations: cited,
		Prompt:    prompt,
		Model:     s.model(),
	}, nil
}

// Stream is Synthesize with token streaming. The citations are returned
// before any token is produced.
func (s *Synthesizer) Stream(ctx context.Context, question string, results []entities.RetrievalResult) (<-chan ports.StreamToken, []entities.RetrievalResult, error) {
	prompt, cited := s.BuildPrompt(question, results)
	if len(cited) == 0 {
		ch := make(chan ports.StreamToken, 1)
		ch <- ports.StreamToken{Content: NoResultsAnswer, Done: true}
		close(ch)
		return ch, nil, nil
	}
	tokens, err := s.llm.GenerateStream(ctx, prompt, s.cfg.Generate)
	if err != nil {
		return nil, nil, classify("generate stream", err)
	}
	return tokens, cited, nil
}

func (s *Synthesizer) model() string {
	if s.cfg.Generate.Model != "" {
		return s.cfg.Generate.Model
	}
	return s.llm.Name()
}

// BuildPrompt assembles the prompt within the context budget and returns the
// results that made it in. Chunks are added whole in order; the first one that
// does not fit ends the context. A first chunk larger than the whole budget is
// truncated so at least one source is present.
func (s *Synthesizer) BuildPrompt(question string, results []entities.RetrievalResult) (string, []entities.RetrievalResult) {
	var blocks []string
	var cited []entities.RetrievalResult
	used := 0
	for i, r := range results {
		text := r.Chunk.Text
		size := len([]rune(text))
		if used+size > s.cfg.MaxContextChars {
			if i > 0 {
				break
			}
			text = string([]rune(text)[:s.cfg.MaxContextChars])
			size = s.cfg.MaxContextChars
		}
		used += size
		cited = append(cited, r)
		blocks = append(blocks, fmt.Sprintf("[%d] (%s, chunk %d)\n%s", len(cited), r.FileName, r.Chunk.Index, text))
	}
	if len(cited) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(SystemPrompt)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(strings.Join(blocks, "\n\n"))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nAnswer:")
	return sb.String(), cited
}

// classify marks a backend failure as a synthesis error unless the backend
// already classified it.
func classify(op string, err error) error {
	if entities.KindOf(err) != "" {
		return err
	}
	return entities.E(entities.KindSynthesisBackend, op, err)
}
