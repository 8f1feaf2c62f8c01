package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
)

type stubLLM struct {
	name  string
	out   string
	err   error
	calls int
}

func (s *stubLLM) Name() string { return s.name }

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	s.calls++
	return s.out, s.err
}

func (s *stubLLM) GenerateStream(ctx context.Context, prompt string, opts ports.GenerateOptions) (<-chan ports.StreamToken, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan ports.StreamToken, 1)
	ch <- ports.StreamToken{Content: s.out, Done: true}
	close(ch)
	return ch, nil
}

func TestChain_FallsThrough(t *testing.T) {
	first := &stubLLM{name: "a", err: errors.New("down")}
	second := &stubLLM{name: "b", out: "ok"}
	third := &stubLLM{name: "c", out: "unused"}

	chain := NewChain(nil, first, second, third)
	out, err := chain.Generate(context.Background(), "p", ports.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, third.calls)
	assert.Equal(t, "a,b,c", chain.Name())
}

func TestChain_AllFail(t *testing.T) {
	chain := NewChain(nil, &stubLLM{name: "a", err: errors.New("down")}, &stubLLM{name: "b", err: errors.New("also down")})
	_, err := chain.Generate(context.Background(), "p", ports.GenerateOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, entities.ErrSynthesisBackend))
	assert.Contains(t, err.Error(), "also down")
}

func TestChain_StreamFallsThrough(t *testing.T) {
	chain := NewChain(nil, &stubLLM{name: "a", err: errors.New("down")}, &stubLLM{name: "b", out: "tok"})
	ch, err := chain.GenerateStream(context.Background(), "p", ports.GenerateOptions{})
	require.NoError(t, err)
	tok := <-ch
	assert.Equal(t, "tok", tok.Content)
}

func TestChain_Empty(t *testing.T) {
	_, err := NewChain(nil).Generate(context.Background(), "p", ports.GenerateOptions{})
	assert.True(t, errors.Is(err, entities.ErrSynthesisBackend))
}
