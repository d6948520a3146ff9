package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mkrein/genflow/internal/state"
)

// Ensemble runs independent no-gradient sampling calls concurrently
// against one engine. Calls are reentrant (the engine holds no per-call
// state), so the only coordination needed is collecting results.
type Ensemble struct {
	engine *Engine
	runs   int
}

// NewEnsemble wraps an engine for n concurrent runs.
func NewEnsemble(e *Engine, n int) *Ensemble {
	if n < 1 {
		n = 1
	}
	return &Ensemble{engine: e, runs: n}
}

// Sample draws one final state per run. The options are shared across
// runs; gradient mode is not supported here since tapes are single-owner.
func (en *Ensemble) Sample(ctx context.Context, opts Options) ([]state.Value, error) {
	opts.Grad = nil
	results := make([]state.Value, en.runs)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < en.runs; i++ {
		g.Go(func() error {
			out, err := en.engine.Sample(ctx, opts)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
