package solver

import (
	"context"
	"fmt"
	"math"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// DPM is a first-order exponential-integrator sampler over the noise
// schedule's log signal-to-noise ratio. It consumes the model's noise
// prediction directly rather than a generic drift, one update per
// time-span interval.
type DPM struct {
	Order int
}

func newDPM(args map[string]any) (Integrator, error) {
	if err := checkKeys(args, "order"); err != nil {
		return nil, err
	}
	order, err := intArg(args, "order", 1)
	if err != nil {
		return nil, err
	}
	if order < 1 {
		return nil, fmt.Errorf("%w: order %d", ErrArgs, order)
	}
	if order > 1 {
		return nil, fmt.Errorf("%w: dpm order %d (only order 1 is available)", ErrNotImplemented, order)
	}
	return &DPM{Order: order}, nil
}

func (d *DPM) Integrate(ctx context.Context, tp *tensor.Tape, prob Problem, x0 state.Value, tSpan []float64) ([]state.Value, error) {
	if err := checkSpan(tSpan); err != nil {
		return nil, err
	}
	if prob.Reverse == nil {
		return nil, ErrMissingReverse
	}

	traj := make([]state.Value, 0, len(tSpan))
	traj = append(traj, x0)
	x := x0
	for i := 0; i+1 < len(tSpan); i++ {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		t, tNext := tSpan[i], tSpan[i+1]
		alpha, sigma := prob.Reverse.Schedule(t)
		alphaNext, sigmaNext := prob.Reverse.Schedule(tNext)
		h := math.Log(alphaNext/sigmaNext) - math.Log(alpha/sigma)

		eps := prob.Reverse.Noise(tp, t, x)
		x = state.Scale(tp, x, alphaNext/alpha)
		x = state.AddScaled(tp, x, -sigmaNext*math.Expm1(h), eps)
		traj = append(traj, x)
	}
	return traj, nil
}
