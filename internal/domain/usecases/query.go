package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/keylock"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// AskRequest is a question with optional retrieval parameters.
type AskRequest struct {
	Question string   `json:"question"`
	K        int      `json:"k,omitempty"`
	FileIDs  []string `json:"file_ids,omitempty"`
}

// StreamEvent is one event of a streamed answer.
type StreamEvent struct {
	Type      string                     `json:"type"` // sources, token, done, error
	Content   string                     `json:"content,omitempty"`
	Citations []entities.RetrievalResult `json:"citations,omitempty"`
}

// QueryUseCase answers questions from the indexed documents.
type QueryUseCase struct {
	retriever   *Retriever
	synthesizer *Synthesizer
	store       ports.VectorStore
	locks       *keylock.Registry
	log         *logger.Logger
}

// NewQueryUseCase creates a QueryUseCase with injected dependencies.
func NewQueryUseCase(
	retriever *Retriever,
	synthesizer *Synthesizer,
	store ports.VectorStore,
	locks *keylock.Registry,
	log *logger.Logger,
) *QueryUseCase {
	if locks == nil {
		locks = keylock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &QueryUseCase{
		retriever:   retriever,
		synthesizer: synthesizer,
		store:       store,
		locks:       locks,
		log:         log.With("component", "query"),
	}
}

// Ask retrieves relevant chunks and synthesizes an answer. When the model
// fails the answer is still returned with its sources, alongside the error.
func (uc *QueryUseCase) Ask(ctx context.Context, req AskRequest) (*entities.Answer, error) {
	results, unlock, err := uc.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()

	answer := &entities.Answer{
		Question: req.Question,
		Sources:  results,
	}

	syn, err := uc.synthesizer.Synthesize(ctx, req.Question, results)
	if err != nil {
		uc.log.Warn("synthesis failed", "error", err, "sources", len(results))
		return answer, fmt.Errorf("synthesizing answer: %w", err)
	}

	answer.Answer = syn.Answer
	answer.Citations = syn.Citations
	answer.Grounded = len(syn.Citations) > 0
	answer.Confidence = meanScore(syn.Citations)
	answer.Model = syn.Model

	uc.record(ctx, req.Question, answer.Answer, syn.Citations)
	return answer, nil
}

// AskStream is Ask with token streaming. onEvent receives the citations first,
// then tokens, then a done event. An error returned by onEvent aborts the stream.
// The retrieved sources are returned whenever retrieval succeeded, also
// alongside a synthesis error.
func (uc *QueryUseCase) AskStream(ctx context.Context, req AskRequest, onEvent func(StreamEvent) error) ([]entities.RetrievalResult, error) {
	results, unlock, err := uc.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tokens, cited, err := uc.synthesizer.Stream(ctx, req.Question, results)
	if err != nil {
		uc.log.Warn("synthesis failed", "error", err, "sources", len(results))
		return results, fmt.Errorf("synthesizing answer: %w", err)
	}
	if err := onEvent(StreamEvent{Type: "sources", Citations: cited}); err != nil {
		return results, err
	}

	var sb strings.Builder
	for tok := range tokens {
		if tok.Error != nil {
			err := tok.Error
			if entities.KindOf(err) == "" {
				err = entities.E(entities.KindSynthesisBackend, "stream", err)
			}
			_ = onEvent(StreamEvent{Type: "error", Content: err.Error()})
			return results, err
		}
		if tok.Content != "" {
			sb.WriteString(tok.Content)
			if err := onEvent(StreamEvent{Type: "token", Content: tok.Content}); err != nil {
				return results, err
			}
		}
		if tok.Done {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	uc.record(ctx, req.Question, sb.String(), cited)
	return results, onEvent(StreamEvent{Type: "done"})
}

// History returns the most recent conversation turns, newest first.
func (uc *QueryUseCase) History(ctx context.Context, limit int) ([]entities.ConversationTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	return uc.store.ListTurns(ctx, limit)
}

// retrieve runs retrieval and read-locks the files it found. Results whose
// file was deleted in between are dropped.
func (uc *QueryUseCase) retrieve(ctx context.Context, req AskRequest) ([]entities.RetrievalResult, func(), error) {
	results, err := uc.retriever.Retrieve(ctx, req.Question, req.K, req.FileIDs)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Chunk.FileID)
	}
	unlock := uc.locks.RLockAll(ids)

	live := make(map[string]bool)
	kept := results[:0]
	for _, r := range results {
		ok, seen := live[r.Chunk.FileID]
		if !seen {
			f, err := uc.store.GetFile(ctx, r.Chunk.FileID)
			switch {
			case err == nil:
				ok = f.State == entities.StateStored
			case errors.Is(err, entities.ErrNotFound):
				ok = false
			default:
				unlock()
				return nil, nil, fmt.Errorf("checking file %s: %w", r.Chunk.FileID, err)
			}
			live[r.Chunk.FileID] = ok
		}
		if ok {
			kept = append(kept, r)
		}
	}
	return kept, unlock, nil
}

func (uc *QueryUseCase) record(ctx context.Context, question, answer string, cited []entities.RetrievalResult) {
	ids := make([]string, len(cited))
	for i, c := range cited {
		ids[i] = c.Chunk.ID
	}
	turn := entities.ConversationTurn{
		ID:            uuid.NewString(),
		Question:      question,
		Answer:        answer,
		CitedChunkIDs: ids,
		CreatedAt:     time.Now().UTC(),
	}
	if err := uc.store.AppendTurn(context.WithoutCancel(ctx), turn); err != nil {
		uc.log.Warn("recording conversation turn", "error", err)
	}
}

func meanScore(results []entities.RetrievalResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}
