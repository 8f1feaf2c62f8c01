package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// batcher splits inputs into fixed-size batches and embeds them with bounded
// parallelism. Results keep input order.
type batcher struct {
	size        int
	concurrency int
}

func newBatcher(size, concurrency int) batcher {
	if size <= 0 {
		size = 32
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return batcher{size: size, concurrency: concurrency}
}

func (b batcher) run(ctx context.Context, texts []string, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no input texts")
	}
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		g.Go(func() error {
			vecs, err := fn(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// dimension remembers the first vector size an adapter produced and rejects
// any later change.
type dimension struct {
	n atomic.Int64
}

func (d *dimension) get() int { return int(d.n.Load()) }

func (d *dimension) check(vecs [][]float32) error {
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("empty embedding at position %d", i)
		}
		d.n.CompareAndSwap(0, int64(len(v)))
		if want := d.n.Load(); int64(len(v)) != want {
			return fmt.Errorf("embedding at position %d has dimension %d, expected %d", i, len(v), want)
		}
	}
	return nil
}
