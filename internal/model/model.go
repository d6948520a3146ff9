// Package model defines the parametric vector-field contract consumed by
// the sampling engine, plus small concrete networks: a single linear map,
// a tanh MLP, a per-field net for tree state, and closed-form fields for
// demos and tests. All learnable networks are differentiable through the
// tensor tape, so gradient-tracked sampling can backpropagate to their
// parameters.
package model

import (
	"fmt"
	"math/rand"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// Model maps (t, x, condition) to a state-shaped update: the vector field
// for flow sampling, or the score/noise/data/velocity head for diffusion
// sampling. Parameters returns every learnable tensor, in a stable order,
// for gradient-tracked integration.
type Model interface {
	Drift(tp *tensor.Tape, t float64, x state.Value, condition state.Value) state.Value
	Parameters() []*tensor.Tensor
}

// Linear is a single affine map over flat state: out = [x|t|cond] W + b.
type Linear struct {
	W *tensor.Tensor
	B *tensor.Tensor
}

// NewLinear builds an affine map from in features to out features with
// small random weights.
func NewLinear(rng *rand.Rand, in, out int) *Linear {
	w := tensor.Randn(rng, in, out)
	data := w.Data()
	for i := range data {
		data[i] *= 0.1
	}
	return &Linear{W: w, B: tensor.New(out)}
}

// Apply runs the affine map over a (B, in) batch.
func (l *Linear) Apply(tp *tensor.Tape, x *tensor.Tensor) *tensor.Tensor {
	return tensor.AddRow(tp, tensor.MatMul(tp, x, l.W), l.B)
}

// Params returns the weight and bias tensors.
func (l *Linear) Params() []*tensor.Tensor {
	return []*tensor.Tensor{l.W, l.B}
}

// features concatenates x with a time column and, when present, the
// condition, producing the network input.
func features(tp *tensor.Tape, x *tensor.Tensor, t float64, condition *tensor.Tensor) *tensor.Tensor {
	out := tensor.ConcatCols(tp, x, tensor.Full(t, x.Dim(0), 1))
	if condition != nil {
		out = tensor.ConcatCols(tp, out, condition)
	}
	return out
}

// MLP is a two-layer tanh network over flat state.
type MLP struct {
	dim     int
	condDim int
	hidden  *Linear
	out     *Linear
}

// NewMLP builds a network for flat state of dim features, optionally
// conditioned on condDim features (0 for unconditional).
func NewMLP(rng *rand.Rand, dim, condDim, hidden int) *MLP {
	in := dim + 1 + condDim
	return &MLP{
		dim:     dim,
		condDim: condDim,
		hidden:  NewLinear(rng, in, hidden),
		out:     NewLinear(rng, hidden, dim),
	}
}

func (m *MLP) forward(tp *tensor.Tape, t float64, x, condition *tensor.Tensor) *tensor.Tensor {
	h := tensor.Tanh(tp, m.hidden.Apply(tp, features(tp, x, t, condition)))
	return m.out.Apply(tp, h)
}

func (m *MLP) Drift(tp *tensor.Tape, t float64, x state.Value, condition state.Value) state.Value {
	xf, ok := x.(*state.Flat)
	if !ok {
		panic("model: MLP requires flat state (use FieldNet for trees)")
	}
	var cond *tensor.Tensor
	if condition != nil {
		cond = condition.(*state.Flat).T
	}
	return state.NewFlat(m.forward(tp, t, xf.T, cond))
}

func (m *MLP) Parameters() []*tensor.Tensor {
	return append(m.hidden.Params(), m.out.Params()...)
}

// FieldNet drives tree state with an independent MLP per field. Fields not
// present in the state are a configuration mistake and panic eagerly at
// construction via the engine's spec validation.
type FieldNet struct {
	nets map[string]*MLP
	keys []string
}

// NewFieldNet builds one MLP per field of a tree spec. Only vector
// (rank-1) field shapes are supported by the bundled networks.
func NewFieldNet(rng *rand.Rand, spec state.Spec, condDim, hidden int) (*FieldNet, error) {
	if !spec.Tree() {
		return nil, fmt.Errorf("model: FieldNet requires a tree spec")
	}
	nets := make(map[string]*MLP, len(spec.Keys()))
	for _, name := range spec.Keys() {
		sh := spec.Field(name)
		if len(sh) != 1 {
			return nil, fmt.Errorf("model: field %q has shape %v; FieldNet supports vector fields", name, sh)
		}
		nets[name] = NewMLP(rng, sh[0], condDim, hidden)
	}
	return &FieldNet{nets: nets, keys: spec.Keys()}, nil
}

func (f *FieldNet) Drift(tp *tensor.Tape, t float64, x state.Value, condition state.Value) state.Value {
	xt, ok := x.(*state.Tree)
	if !ok {
		panic("model: FieldNet requires tree state")
	}
	var cond *tensor.Tensor
	if condition != nil {
		cond = condition.(*state.Flat).T
	}
	fields := make(map[string]*tensor.Tensor, len(f.keys))
	for _, name := range f.keys {
		fields[name] = f.nets[name].forward(tp, t, xt.Field(name), cond)
	}
	out, err := state.NewTree(fields)
	if err != nil {
		panic(err)
	}
	return out
}

func (f *FieldNet) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, name := range f.keys {
		params = append(params, f.nets[name].Parameters()...)
	}
	return params
}
