// Package solver provides the uniform integration contract over the
// heterogeneous numerical solvers that can drive a sampling run.
//
// Two families exist, resolved once when a solver configuration is
// constructed, never re-checked per call:
//
//   - [DirectDrift]: general-purpose ODE steppers consuming a caller
//     supplied drift f(t, x) over flat state ([Euler], [RK4], [RK45]).
//   - [StructuredReverse]: samplers that derive their own drift from the
//     reverse-time formulation of a forward noising process and accept both
//     flat and tree state ([TreeODE], [SDE], [DPM]).
//
// Gradient mode is an explicit *tensor.Tape threaded through Integrate; a
// nil tape is the no-gradient path and retains no graph.
package solver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

var (
	// ErrUnknownSolver indicates a solver-kind identifier missing from the
	// registry. Detected before any integration work.
	ErrUnknownSolver = errors.New("solver: unknown solver type")

	// ErrArgs indicates an invalid solver argument map.
	ErrArgs = errors.New("solver: invalid solver arguments")

	// ErrMissingDrift indicates a direct-drift solver invoked without a
	// drift function.
	ErrMissingDrift = errors.New("solver: direct-drift solver requires a drift function")

	// ErrMissingReverse indicates a structured solver invoked without a
	// reverse process.
	ErrMissingReverse = errors.New("solver: structured solver requires a reverse process")

	// ErrNotImplemented marks argument combinations that are recognized but
	// unsupported, as opposed to invalid configuration.
	ErrNotImplemented = errors.New("solver: not implemented")

	// ErrStepLimit indicates an adaptive solver exceeding its step budget.
	ErrStepLimit = errors.New("solver: adaptive step limit exceeded")

	// ErrTimeSpan indicates a time span with fewer than two points.
	ErrTimeSpan = errors.New("solver: time span needs at least two points")
)

// Family tags the two solver families.
type Family int

const (
	DirectDrift Family = iota
	StructuredReverse
)

func (f Family) String() string {
	if f == DirectDrift {
		return "direct-drift"
	}
	return "structured-reverse"
}

// Drift is the time-derivative function driving a direct integration.
type Drift func(tp *tensor.Tape, t float64, x state.Value) state.Value

// ReverseProcess is what a structured solver needs from a reverse-time
// formulation of the forward noising process. Implemented by
// process.Reverse.
type ReverseProcess interface {
	// Drift is the probability-flow ODE drift.
	Drift(tp *tensor.Tape, t float64, x state.Value) state.Value
	// SDEDrift is the reverse-SDE drift.
	SDEDrift(tp *tensor.Tape, t float64, x state.Value) state.Value
	// Diffusion is the SDE diffusion coefficient g(t).
	Diffusion(t float64) float64
	// Noise is the model's noise prediction at (t, x).
	Noise(tp *tensor.Tape, t float64, x state.Value) state.Value
	// Schedule returns (alpha, sigma) at t.
	Schedule(t float64) (alpha, sigma float64)
}

// Problem carries whichever drift source the configured family needs.
type Problem struct {
	Drift   Drift
	Reverse ReverseProcess
}

// Integrator drives a state batch across a time span, returning one
// snapshot per time-span point, the first being the initial state.
type Integrator interface {
	Integrate(ctx context.Context, tp *tensor.Tape, prob Problem, x0 state.Value, tSpan []float64) ([]state.Value, error)
}

// Config selects a solver kind and its kind-specific arguments. It is
// immutable for the lifetime of a sampling call.
type Config struct {
	Type string         `yaml:"type"`
	Args map[string]any `yaml:"args"`
}

type entry struct {
	family Family
	build  func(args map[string]any) (Integrator, error)
}

var registry = map[string]entry{
	"euler": {DirectDrift, newEuler},
	"rk4":   {DirectDrift, newRK4},
	"rk45":  {DirectDrift, newRK45},
	"tree_ode": {StructuredReverse, func(args map[string]any) (Integrator, error) {
		return newTreeODE(args)
	}},
	"sde": {StructuredReverse, newSDE},
	"dpm": {StructuredReverse, newDPM},
}

// New constructs the integrator named by cfg. Unknown identifiers and bad
// arguments fail here, before any integration work begins.
func New(cfg Config) (Integrator, Family, error) {
	e, ok := registry[cfg.Type]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q (known: %v)", ErrUnknownSolver, cfg.Type, Kinds())
	}
	integ, err := e.build(cfg.Args)
	if err != nil {
		return nil, 0, err
	}
	return integ, e.family, nil
}

// Kinds returns the registered solver identifiers, sorted.
func Kinds() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkKeys(args map[string]any, allowed ...string) error {
	for key := range args {
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: unknown argument %q (allowed: %v)", ErrArgs, key, allowed)
		}
	}
	return nil
}

func floatArg(args map[string]any, key string, def float64) (float64, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrArgs, key, v)
}

func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case float64:
		if x == float64(int(x)) {
			return int(x), nil
		}
	}
	return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrArgs, key, v)
}

func int64Arg(args map[string]any, key string, def int64) (int64, error) {
	n, err := intArg(args, key, int(def))
	return int64(n), err
}

func checkSpan(tSpan []float64) error {
	if len(tSpan) < 2 {
		return fmt.Errorf("%w: got %d", ErrTimeSpan, len(tSpan))
	}
	return nil
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// flatOnly rejects tree state for the direct-drift family. Making the ODE
// steppers tree-aware is tracked by the tree_ode solver; this keeps the
// unsupported combination an explicit, recognizable error.
func flatOnly(x0 state.Value) error {
	if _, ok := x0.(*state.Tree); ok {
		return fmt.Errorf("%w: tree state on a direct-drift solver (use tree_ode)", ErrNotImplemented)
	}
	return nil
}
