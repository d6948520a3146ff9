// Package batch reconciles the three independently-optional batch
// quantities of a sampling call: a caller-requested extra batch shape, a
// data batch size implied by the provided initial state and/or condition,
// and the configured per-sample state shape. A [Plan] captures the forward
// composition (how the flat integration batch is built) and performs the
// inverse (how each trajectory snapshot is reshaped and squeezed back into
// the caller-facing layout).
package batch

import (
	"errors"
	"fmt"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

var (
	// ErrMismatch indicates x0 and condition with different leading sizes.
	ErrMismatch = errors.New("batch: x0 and condition batch sizes must be equal")

	// ErrInvalidShape indicates an unusable extra batch shape.
	ErrInvalidShape = errors.New("batch: invalid batch shape")

	// ErrFlatSize indicates a snapshot whose flat batch does not match the plan.
	ErrFlatSize = errors.New("batch: snapshot batch size does not match plan")
)

// Shape is an explicitly requested extra batch shape. A nil *Shape means the
// caller requested none.
type Shape struct {
	dims []int
}

// Scalar requests n extra samples per data entry.
func Scalar(n int) *Shape { return &Shape{dims: []int{n}} }

// Dims requests a multi-axis extra batch shape.
func Dims(dims ...int) *Shape { return &Shape{dims: append([]int(nil), dims...)} }

// Dims returns the requested dimensions.
func (s *Shape) Dims() []int { return s.dims }

// Plan is the resolved batch composition for one sampling call.
type Plan struct {
	extra    []int
	explicit bool
	data     int
	hasData  bool
}

// NewPlan normalizes the extra batch shape and infers the data batch size
// from x0 and condition per the precedence x0, then condition, then 1. Both
// present with differing leading sizes is a configuration error.
func NewPlan(bs *Shape, x0, condition state.Value) (*Plan, error) {
	p := &Plan{extra: []int{1}}
	if bs != nil {
		if len(bs.dims) == 0 {
			return nil, fmt.Errorf("%w: empty shape", ErrInvalidShape)
		}
		for _, d := range bs.dims {
			if d < 1 {
				return nil, fmt.Errorf("%w: dimension %d", ErrInvalidShape, d)
			}
		}
		p.extra = append([]int(nil), bs.dims...)
		p.explicit = true
	}

	switch {
	case x0 != nil && condition != nil:
		if x0.BatchSize() != condition.BatchSize() {
			return nil, fmt.Errorf("%w: %d vs %d", ErrMismatch, x0.BatchSize(), condition.BatchSize())
		}
		p.data, p.hasData = x0.BatchSize(), true
	case x0 != nil:
		p.data, p.hasData = x0.BatchSize(), true
	case condition != nil:
		p.data, p.hasData = condition.BatchSize(), true
	default:
		p.data = 1
	}
	return p, nil
}

// Extra returns the normalized extra batch shape.
func (p *Plan) Extra() []int { return p.extra }

// Explicit reports whether the caller passed a batch-size argument.
func (p *Plan) Explicit() bool { return p.explicit }

// DataBatch returns the inferred data batch size.
func (p *Plan) DataBatch() int { return p.data }

// HasData reports whether x0 or condition supplied the data batch.
func (p *Plan) HasData() bool { return p.hasData }

// ExtraProduct returns the replication factor applied to each data sample.
func (p *Plan) ExtraProduct() int {
	n := 1
	for _, d := range p.extra {
		n *= d
	}
	return n
}

// Total returns the flat batch size driven through the integrator.
func (p *Plan) Total() int { return p.ExtraProduct() * p.data }

// ExpandInitial produces the flat initial batch. When x0 is present its
// trailing shapes are validated against spec and each sample is
// repeat-interleaved ExtraProduct times, so sample i occupies the
// contiguous block [i*k, (i+1)*k). When absent, draw supplies Total fresh
// samples from the initial distribution.
func (p *Plan) ExpandInitial(x0 state.Value, spec state.Spec, draw func(n int) state.Value) (state.Value, error) {
	if x0 == nil {
		return draw(p.Total()), nil
	}
	if err := state.Validate(x0, spec); err != nil {
		return nil, err
	}
	return state.RepeatInterleave(x0, p.ExtraProduct()), nil
}

// ExpandCondition repeats the condition identically to the initial state so
// the two stay aligned index for index. A nil condition stays nil.
func (p *Plan) ExpandCondition(condition state.Value) state.Value {
	if condition == nil {
		return nil
	}
	return state.RepeatInterleave(condition, p.ExtraProduct())
}

// Restore inverts the composition on one trajectory snapshot: the flat
// batch axis becomes (extra..., dataBatch), then axes the caller never
// asked for are squeezed away. The four regimes:
//
//   - no batch argument, no x0/condition: both axes squeezed
//   - no batch argument, x0 or condition given: extra axis squeezed
//   - batch argument given, no x0/condition: data axis squeezed
//   - batch argument and x0/condition given: nothing squeezed
func (p *Plan) Restore(snapshot state.Value) (state.Value, error) {
	if snapshot.BatchSize() != p.Total() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFlatSize, snapshot.BatchSize(), p.Total())
	}
	lead := append(append([]int(nil), p.extra...), p.data)
	out, err := state.MapErr(snapshot, func(t *tensor.Tensor) (*tensor.Tensor, error) {
		r, err := t.ReshapeLeading(lead...)
		if err != nil {
			return nil, err
		}
		if !p.explicit {
			if r, err = r.Squeeze(0); err != nil {
				return nil, err
			}
			if !p.hasData {
				if r, err = r.Squeeze(0); err != nil {
					return nil, err
				}
			}
			return r, nil
		}
		if !p.hasData {
			if r, err = r.Squeeze(len(p.extra)); err != nil {
				return nil, err
			}
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
