// Package process implements the forward noising process used by the
// structured solver family and its reverse-time formulation. The path is a
// linear variance-preserving schedule: x_t = alpha(t) x_0 + sigma(t) eps
// with beta(t) interpolating between BetaMin and BetaMax over t in [0, 1].
package process

import (
	"errors"
	"fmt"
	"math"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// ErrPrediction indicates an unknown model-output interpretation.
var ErrPrediction = errors.New("process: unknown prediction type")

// PredictionType declares how the parametric model's output is interpreted
// when deriving the reverse drift.
type PredictionType string

const (
	Score    PredictionType = "score"
	Noise    PredictionType = "noise"
	Data     PredictionType = "data"
	Velocity PredictionType = "velocity"
)

// ParsePrediction validates a prediction-type identifier.
func ParsePrediction(s string) (PredictionType, error) {
	switch PredictionType(s) {
	case Score, Noise, Data, Velocity:
		return PredictionType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrPrediction, s)
}

// Path is a linear variance-preserving noise schedule.
type Path struct {
	BetaMin float64
	BetaMax float64
}

// DefaultPath returns the conventional beta range [0.1, 20].
func DefaultPath() *Path {
	return &Path{BetaMin: 0.1, BetaMax: 20.0}
}

// Beta returns the instantaneous noise rate at t.
func (p *Path) Beta(t float64) float64 {
	return p.BetaMin + t*(p.BetaMax-p.BetaMin)
}

// Alpha returns the signal coefficient at t.
func (p *Path) Alpha(t float64) float64 {
	integral := 0.5*t*t*(p.BetaMax-p.BetaMin) + t*p.BetaMin
	return math.Exp(-0.5 * integral)
}

// Sigma returns the noise coefficient at t, with alpha^2 + sigma^2 = 1.
func (p *Path) Sigma(t float64) float64 {
	a := p.Alpha(t)
	s := math.Sqrt(1 - a*a)
	if s < 1e-6 {
		return 1e-6
	}
	return s
}

// Diffusion returns g(t), the SDE diffusion coefficient sqrt(beta(t)).
func (p *Path) Diffusion(t float64) float64 {
	return math.Sqrt(p.Beta(t))
}

// ModelFunc evaluates the parametric model at (t, x); the condition, if
// any, is bound by the caller before construction.
type ModelFunc func(tp *tensor.Tape, t float64, x state.Value) state.Value

// Reverse is the reverse-time formulation of the path for a specific model
// and prediction type. It satisfies the solver package's ReverseProcess
// contract.
type Reverse struct {
	path *Path
	fn   ModelFunc
	kind PredictionType
}

// NewReverse binds the path to a model whose output is interpreted per kind.
func NewReverse(path *Path, fn ModelFunc, kind PredictionType) *Reverse {
	return &Reverse{path: path, fn: fn, kind: kind}
}

// Schedule returns (alpha, sigma) at t.
func (r *Reverse) Schedule(t float64) (float64, float64) {
	return r.path.Alpha(t), r.path.Sigma(t)
}

// Diffusion returns g(t) of the underlying path.
func (r *Reverse) Diffusion(t float64) float64 {
	return r.path.Diffusion(t)
}

// Score evaluates the model and converts its output to the score
// grad_x log p_t(x):
//
//	score     -> output
//	noise     -> -eps / sigma
//	data      -> (alpha x0_hat - x) / sigma^2
//	velocity  -> -(alpha v + sigma x) / sigma
func (r *Reverse) Score(tp *tensor.Tape, t float64, x state.Value) state.Value {
	out := r.fn(tp, t, x)
	alpha, sigma := r.Schedule(t)
	switch r.kind {
	case Score:
		return out
	case Noise:
		return state.Scale(tp, out, -1/sigma)
	case Data:
		// alpha*x0_hat - x, scaled by 1/sigma^2
		diff := state.AddScaled(tp, state.Scale(tp, out, alpha), -1, x)
		return state.Scale(tp, diff, 1/(sigma*sigma))
	case Velocity:
		eps := state.AddScaled(tp, state.Scale(tp, out, alpha), sigma, x)
		return state.Scale(tp, eps, -1/sigma)
	default:
		panic(fmt.Sprintf("process: prediction type %q", r.kind))
	}
}

// Noise evaluates the model and converts its output to the noise
// prediction eps_hat, the quantity exponential-integrator solvers consume.
func (r *Reverse) Noise(tp *tensor.Tape, t float64, x state.Value) state.Value {
	out := r.fn(tp, t, x)
	alpha, sigma := r.Schedule(t)
	switch r.kind {
	case Noise:
		return out
	case Score:
		return state.Scale(tp, out, -sigma)
	case Data:
		// (x - alpha x0_hat) / sigma
		diff := state.AddScaled(tp, x, -alpha, out)
		return state.Scale(tp, diff, 1/sigma)
	case Velocity:
		return state.AddScaled(tp, state.Scale(tp, out, alpha), sigma, x)
	default:
		panic(fmt.Sprintf("process: prediction type %q", r.kind))
	}
}

// Drift returns the probability-flow ODE drift:
// f(t) x - 1/2 g(t)^2 score = -1/2 beta(t) (x + score).
func (r *Reverse) Drift(tp *tensor.Tape, t float64, x state.Value) state.Value {
	beta := r.path.Beta(t)
	score := r.Score(tp, t, x)
	return state.Scale(tp, state.AddScaled(tp, x, 1, score), -0.5*beta)
}

// SDEDrift returns the reverse-SDE drift:
// f(t) x - g(t)^2 score = -1/2 beta(t) x - beta(t) score.
func (r *Reverse) SDEDrift(tp *tensor.Tape, t float64, x state.Value) state.Value {
	beta := r.path.Beta(t)
	score := r.Score(tp, t, x)
	return state.AddScaled(tp, state.Scale(tp, x, -0.5*beta), -beta, score)
}
