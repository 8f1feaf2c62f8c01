package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/0xcro3dile/docrag/internal/domain/entities"
	"github.com/0xcro3dile/docrag/internal/domain/ports"
	"github.com/0xcro3dile/docrag/internal/platform/logger"
)

// Chain tries backends in order and falls through to the next one on error.
// Streams fall through only when the stream cannot be opened.
type Chain struct {
	backends []ports.LLMService
	log      *logger.Logger
}

// NewChain builds a fallback chain. The first backend is preferred.
func NewChain(log *logger.Logger, backends ...ports.LLMService) *Chain {
	if log == nil {
		log = logger.Nop()
	}
	return &Chain{backends: backends, log: log.With("component", "llm_chain")}
}

// Name lists the member backends.
func (c *Chain) Name() string {
	if len(c.backends) == 1 {
		return c.backends[0].Name()
	}
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return strings.Join(names, ",")
}

func (c *Chain) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	if len(c.backends) == 0 {
		return "", entities.Errorf(entities.KindSynthesisBackend, "generate", "no language model backend configured")
	}
	var errs []error
	for _, b := range c.backends {
		out, err := b.Generate(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.log.Warn("backend failed, trying next", "backend", b.Name(), "error", err)
	}
	return "", entities.E(entities.KindSynthesisBackend, "generate", errors.Join(errs...))
}

func (c *Chain) GenerateStream(ctx context.Context, prompt string, opts ports.GenerateOptions) (<-chan ports.StreamToken, error) {
	if len(c.backends) == 0 {
		return nil, entities.Errorf(entities.KindSynthesisBackend, "stream", "no language model backend configured")
	}
	var errs []error
	for _, b := range c.backends {
		ch, err := b.GenerateStream(ctx, prompt, opts)
		if err == nil {
			return ch, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.log.Warn("backend stream failed, trying next", "backend", b.Name(), "error", err)
	}
	return nil, entities.E(entities.KindSynthesisBackend, "stream", errors.Join(errs...))
}
