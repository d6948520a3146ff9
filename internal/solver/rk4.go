package solver

import (
	"context"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// RK4 is the classic fourth-order fixed-step ODE solver.
type RK4 struct {
	Substeps int
}

func newRK4(args map[string]any) (Integrator, error) {
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
	return &RK4{Substeps: sub}, nil
}

func rk4Step(tp *tensor.Tape, drift Drift, x state.Value, t, h float64) state.Value {
	k1 := drift(tp, t, x)
	k2 := drift(tp, t+h/2, state.AddScaled(tp, x, h/2, k1))
	k3 := drift(tp, t+h/2, state.AddScaled(tp, x, h/2, k2))
	k4 := drift(tp, t+h, state.AddScaled(tp, x, h, k3))

	out := state.AddScaled(tp, x, h/6, k1)
	out = state.AddScaled(tp, out, h/3, k2)
	out = state.AddScaled(tp, out, h/3, k3)
	return state.AddScaled(tp, out, h/6, k4)
}

func (r *RK4) Integrate(ctx context.Context, tp *tensor.Tape, prob Problem, x0 state.Value, tSpan []float64) ([]state.Value, error) {
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
		h := (tSpan[i+1] - tSpan[i]) / float64(r.Substeps)
		for s := 0; s < r.Substeps; s++ {
			x = rk4Step(tp, prob.Drift, x, t, h)
			t += h
		}
		traj = append(traj, x)
	}
	return traj, nil
}

// TreeODE is the structured-family RK4 stepper: it derives its drift from
// the reverse-time probability-flow formulation and accepts both flat and
// tree state.
type TreeODE struct {
	Substeps int
}

func newTreeODE(args map[string]any) (Integrator, error) {
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
	return &TreeODE{Substeps: sub}, nil
}

func (r *TreeODE) Integrate(ctx context.Context, tp *tensor.Tape, prob Problem, x0 state.Value, tSpan []float64) ([]state.Value, error) {
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
		t := tSpan[i]
		h := (tSpan[i+1] - tSpan[i]) / float64(r.Substeps)
		for s := 0; s < r.Substeps; s++ {
			x = rk4Step(tp, prob.Reverse.Drift, x, t, h)
			t += h
		}
		traj = append(traj, x)
	}
	return traj, nil
}
