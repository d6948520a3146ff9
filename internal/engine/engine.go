// Package engine is the public entry point of the sampling subsystem: it
// composes batch-shape planning, solver selection and the gradient mode
// into "sample a final state" and "sample the full forward trajectory".
//
// Engines hold no mutable per-call state; sampling is a pure function of
// its arguments and the model's current parameters, so concurrent calls
// against one engine are safe as long as the model is not being trained
// concurrently.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/mkrein/genflow/internal/batch"
	"github.com/mkrein/genflow/internal/model"
	"github.com/mkrein/genflow/internal/process"
	"github.com/mkrein/genflow/internal/solver"
	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// Config fixes an engine's state layout and defaults at construction time.
type Config struct {
	// Spec is the per-sample state layout (flat shape or per-field shapes).
	Spec state.Spec
	// Device is an informational execution-target identifier.
	Device string
	// Solver is the optional default solver; sampling calls may override it.
	Solver *solver.Config
	// Seed feeds the initial-distribution sampler.
	Seed int64
}

// Engine owns a model, an optional diffusion process and a default solver.
// All fields are read-only after New.
type Engine struct {
	cfg    Config
	model  model.Model
	path   *process.Path
	pred   process.PredictionType
	integ  solver.Integrator
	family solver.Family
	draws  atomic.Int64
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithProcess equips the engine with a forward noising process and the
// declared interpretation of the model output, enabling the
// structured-reverse solver family.
func WithProcess(path *process.Path, pred process.PredictionType) Option {
	return func(e *Engine) {
		e.path = path
		e.pred = pred
	}
}

// New validates the configuration eagerly: the state spec must be usable
// and a configured default solver must resolve against the registry.
func New(cfg Config, m model.Model, opts ...Option) (*Engine, error) {
	if m == nil {
		return nil, ErrNoModel
	}
	if !cfg.Spec.Tree() && len(cfg.Spec.FlatShape()) == 0 {
		return nil, fmt.Errorf("%w: empty state shape", state.ErrSpec)
	}
	e := &Engine{cfg: cfg, model: m}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Solver != nil {
		integ, family, err := solver.New(*cfg.Solver)
		if err != nil {
			return nil, err
		}
		e.integ, e.family = integ, family
	}
	return e, nil
}

// Spec returns the configured state layout.
func (e *Engine) Spec() state.Spec { return e.cfg.Spec }

// Options are the per-call sampling arguments. Every field except TSpan is
// optional.
type Options struct {
	// TSpan is the ordered integration time span; the trajectory has one
	// snapshot per entry.
	TSpan []float64
	// Batch requests extra batch dimensions on top of the data batch.
	Batch *batch.Shape
	// X0 is the initial state; when nil a fresh Gaussian batch is drawn.
	X0 state.Value
	// Condition conditions the model; must share X0's leading size.
	Condition state.Value
	// Grad, when non-nil, enables gradient-tracked integration onto this
	// tape; the model's parameter list is watched before integrating. A nil
	// tape runs the no-gradient path and retains no graph.
	Grad *tensor.Tape
	// Solver overrides the engine's default solver for this call.
	Solver *solver.Config
}

// gaussian draws a fresh batch from the initial distribution. Each call
// uses its own generator derived from the engine seed and a counter, so
// concurrent sampling calls never share generator state.
func (e *Engine) gaussian(n int) state.Value {
	rng := rand.New(rand.NewSource(e.cfg.Seed + e.draws.Add(1)))
	return state.Gaussian(rng, e.cfg.Spec, n)
}

func (e *Engine) resolveSolver(override *solver.Config) (solver.Integrator, solver.Family, error) {
	if override != nil {
		return solver.New(*override)
	}
	if e.integ == nil {
		return nil, 0, ErrNoSolver
	}
	return e.integ, e.family, nil
}

// problem builds the drift source for the resolved family, binding the
// expanded condition.
func (e *Engine) problem(family solver.Family, condition state.Value) (solver.Problem, error) {
	switch family {
	case solver.DirectDrift:
		return solver.Problem{
			Drift: func(tp *tensor.Tape, t float64, x state.Value) state.Value {
				return e.model.Drift(tp, t, x, condition)
			},
		}, nil
	case solver.StructuredReverse:
		if e.path == nil {
			return solver.Problem{}, ErrNoProcess
		}
		fn := func(tp *tensor.Tape, t float64, x state.Value) state.Value {
			return e.model.Drift(tp, t, x, condition)
		}
		return solver.Problem{Reverse: process.NewReverse(e.path, fn, e.pred)}, nil
	}
	return solver.Problem{}, fmt.Errorf("engine: unknown solver family %v", family)
}

// SampleForwardProcess integrates the model across opts.TSpan and returns
// every intermediate state, reshaped per the batch plan's squeeze regime.
func (e *Engine) SampleForwardProcess(ctx context.Context, opts Options) ([]state.Value, error) {
	if len(opts.TSpan) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTimeSpan, len(opts.TSpan))
	}

	plan, err := batch.NewPlan(opts.Batch, opts.X0, opts.Condition)
	if err != nil {
		return nil, err
	}
	integ, family, err := e.resolveSolver(opts.Solver)
	if err != nil {
		return nil, err
	}

	x0, err := plan.ExpandInitial(opts.X0, e.cfg.Spec, e.gaussian)
	if err != nil {
		return nil, err
	}
	condition := plan.ExpandCondition(opts.Condition)

	prob, err := e.problem(family, condition)
	if err != nil {
		return nil, err
	}
	if opts.Grad != nil {
		for _, p := range e.model.Parameters() {
			opts.Grad.Watch(p)
		}
	}

	klog.V(2).Infof("sampling: family=%s batch=%d steps=%d grad=%t",
		family, plan.Total(), len(opts.TSpan), opts.Grad != nil)

	traj, err := integ.Integrate(ctx, opts.Grad, prob, x0, opts.TSpan)
	if err != nil {
		return nil, err
	}

	out := make([]state.Value, len(traj))
	for i, snap := range traj {
		if out[i], err = plan.Restore(snap); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Sample returns the final state of the forward process.
func (e *Engine) Sample(ctx context.Context, opts Options) (state.Value, error) {
	traj, err := e.SampleForwardProcess(ctx, opts)
	if err != nil {
		return nil, err
	}
	return traj[len(traj)-1], nil
}
