package solver

import (
	"context"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// Euler is the first-order fixed-step ODE solver. Between consecutive
// time-span points it takes Substeps equal steps.
type Euler struct {
	Substeps int
}

func newEuler(args map[string]any) (Integrator, error) {
	if err := checkKeys(args, "substeps"); err != nil {
		return nil, err
	}
	sub, err := intArg(args, "substeps", 1)
	if err != nil {
		return nil, err
	}
	if sub < 1 {
		sub = 1
	}
	return &Euler{Substeps: sub}, nil
}

func (e *Euler) Integrate(ctx context.Context, tp *tensor.Tape, prob Problem, x0 state.Value, tSpan []float64) ([]state.Value, error) {
	if err := checkSpan(tSpan); err != nil {
		return nil, err
	}
	if prob.Drift == nil {
		return nil, ErrMissingDrift
	}
	if err := flatOnly(x0); err != nil {
		return nil, err
	}

	traj := make([]state.Value, 0, len(tSpan))
	traj = append(traj, x0)
	x := x0
	for i := 0; i+1 < len(tSpan); i++ {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		t := tSpan[i]
		h := (tSpan[i+1] - tSpan[i]) / float64(e.Substeps)
		for s := 0; s < e.Substeps; s++ {
			k := prob.Drift(tp, t, x)
			x = state.AddScaled(tp, x, h, k)
			t += h
		}
		traj = append(traj, x)
	}
	return traj, nil
}
