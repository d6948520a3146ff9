package solver

import (
	"context"
	"math"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45 is the adaptive Dormand-Prince solver. Step size adapts inside each
// time-span interval; snapshots land exactly on the time-span points.
type RK45 struct {
	Tol      float64
	MaxSteps int

	safety   float64
	minScale float64
	maxScale float64
}

func newRK45(args map[string]any) (Integrator, error) {
	if err := checkKeys(args, "tol", "max_steps"); err != nil {
		return nil, err
	}
	tol, err := floatArg(args, "tol", 1e-6)
	if err != nil {
		return nil, err
	}
	maxSteps, err := intArg(args, "max_steps", 10000)
	if err != nil {
		return nil, err
	}
	return &RK45{
		Tol:      tol,
		MaxSteps: maxSteps,
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}, nil
}

func combine(tp *tensor.Tape, x state.Value, h float64, terms ...struct {
	c float64
	k state.Value
}) state.Value {
	out := x
	for _, tm := range terms {
		if tm.c == 0 {
			continue
		}
		out = state.AddScaled(tp, out, h*tm.c, tm.k)
	}
	return out
}

func term(c float64, k state.Value) struct {
	c float64
	k state.Value
} {
	return struct {
		c float64
		k state.Value
	}{c, k}
}

// scaledError computes the elementwise-scaled max error of the embedded
// fourth-order estimate, matching classic step-size control.
func scaledError(errV, x, k1 state.Value, dt float64) float64 {
	errMax := 0.0
	each := func(e, xv, kv *tensor.Tensor) {
		ed, xd, kd := e.Data(), xv.Data(), kv.Data()
		for i := range ed {
			scale := math.Abs(xd[i]) + math.Abs(dt*kd[i]) + 1e-10
			errMax = math.Max(errMax, math.Abs(ed[i])/scale)
		}
	}
	switch ev := errV.(type) {
	case *state.Flat:
		each(ev.T, x.(*state.Flat).T, k1.(*state.Flat).T)
	case *state.Tree:
		xt, kt := x.(*state.Tree), k1.(*state.Tree)
		for _, name := range ev.Keys() {
			each(ev.Field(name), xt.Field(name), kt.Field(name))
		}
	}
	return errMax
}

// step advances one adaptive trial step. The stage states and the
// fifth-order update record on the tape; the embedded error estimate and
// its extra drift evaluation stay outside the graph.
func (r *RK45) step(tp *tensor.Tape, drift Drift, x state.Value, t, dt float64) (state.Value, float64, float64) {
	k1 := drift(tp, t, x)
	k2 := drift(tp, t+a2*dt, combine(tp, x, dt, term(b21, k1)))
	k3 := drift(tp, t+a3*dt, combine(tp, x, dt, term(b31, k1), term(b32, k2)))
	k4 := drift(tp, t+a4*dt, combine(tp, x, dt, term(b41, k1), term(b42, k2), term(b43, k3)))
	k5 := drift(tp, t+a5*dt, combine(tp, x, dt, term(b51, k1), term(b52, k2), term(b53, k3), term(b54, k4)))
	k6 := drift(tp, t+dt, combine(tp, x, dt, term(b61, k1), term(b62, k2), term(b63, k3), term(b64, k4), term(b65, k5)))

	xNew := state.AddScaled(tp, x, dt*c1, k1)
	xNew = state.AddScaled(tp, xNew, dt*c3, k3)
	xNew = state.AddScaled(tp, xNew, dt*c4, k4)
	xNew = state.AddScaled(tp, xNew, dt*c5, k5)
	xNew = state.AddScaled(tp, xNew, dt*c6, k6)

	k7 := drift(nil, t+dt, xNew)

	errV := state.Scale(nil, k1, dt*dc1)
	errV = state.AddScaled(nil, errV, dt*dc3, k3)
	errV = state.AddScaled(nil, errV, dt*dc4, k4)
	errV = state.AddScaled(nil, errV, dt*dc5, k5)
	errV = state.AddScaled(nil, errV, dt*dc6, k6)
	errV = state.AddScaled(nil, errV, dt*dc7, k7)

	errMax := scaledError(errV, x, k1, dt)
	errRatio := errMax / r.Tol

	var dtNew float64
	if errRatio > 1 {
		dtNew = dt * math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
	} else if errRatio > 0 {
		dtNew = dt * math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
	} else {
		dtNew = dt * r.maxScale
	}
	return xNew, errRatio, dtNew
}

func (r *RK45) Integrate(ctx context.Context, tp *tensor.Tape, prob Problem, x0 state.Value, tSpan []float64) ([]state.Value, error) {
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
	steps := 0
	for i := 0; i+1 < len(tSpan); i++ {
		t0, t1 := tSpan[i], tSpan[i+1]
		// Integrate on s in [0, |t1-t0|] so the adaptive control always
		// sees a positive step, even over a descending time span.
		dir := 1.0
		if t1 < t0 {
			dir = -1.0
		}
		span := math.Abs(t1 - t0)
		drift := func(tap *tensor.Tape, s float64, v state.Value) state.Value {
			return state.Scale(tap, prob.Drift(tap, t0+dir*s, v), dir)
		}

		s, dt := 0.0, span
		for s < span {
			if err := checkCtx(ctx); err != nil {
				return nil, err
			}
			if steps >= r.MaxSteps {
				return nil, ErrStepLimit
			}
			if dt > span-s {
				dt = span - s
			}
			xNew, errRatio, dtNew := r.step(tp, drift, x, s, dt)
			steps++
			if errRatio > 1 && dtNew < dt {
				dt = dtNew
				continue
			}
			x = xNew
			s += dt
			dt = dtNew
		}
		traj = append(traj, x)
	}
	return traj, nil
}
