package engine

import "errors"

// Configuration errors, all detected before any integration work begins.
var (
	// ErrNoModel indicates construction without a parametric model.
	ErrNoModel = errors.New("engine: no model configured")

	// ErrNoSolver indicates a sampling call with neither a per-call solver
	// override nor a default solver configured at construction.
	ErrNoSolver = errors.New("engine: solver must be configured or supplied per call")

	// ErrNoProcess indicates a structured-reverse solver selected without a
	// diffusion process configured on the engine.
	ErrNoProcess = errors.New("engine: structured solver requires a diffusion process")

	// ErrTimeSpan indicates an empty or single-point time span.
	ErrTimeSpan = errors.New("engine: time span needs at least two points")
)
