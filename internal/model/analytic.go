package model

import (
	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// OU is the closed-form Ornstein-Uhlenbeck field dx/dt = -Theta (x - Mu).
// It has no parameters and works on both state representations, which
// makes it the default demo field for the CLI.
type OU struct {
	Theta float64
	Mu    float64
}

func (o *OU) Drift(tp *tensor.Tape, t float64, x state.Value, condition state.Value) state.Value {
	return state.Map(x, func(f *tensor.Tensor) *tensor.Tensor {
		shifted := tensor.AddScaled(tp, f, -1, tensor.Full(o.Mu, f.Shape()...))
		return tensor.Scale(tp, shifted, -o.Theta)
	})
}

func (o *OU) Parameters() []*tensor.Tensor { return nil }

// GaussScore is the exact score of a standard normal target,
// grad_x log N(x; 0, I) = -x. Paired with a structured solver it samples
// a unit Gaussian without any training, which keeps CLI demos and solver
// tests free of learned weights.
type GaussScore struct{}

func (GaussScore) Drift(tp *tensor.Tape, t float64, x state.Value, condition state.Value) state.Value {
	return state.Scale(tp, x, -1)
}

func (GaussScore) Parameters() []*tensor.Tensor { return nil }
