package solver

import (
	"context"
	"math"
	"math/rand"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

// SDE integrates the reverse-time SDE with the Euler-Maruyama scheme. The
// noise stream is seeded per call, so repeated calls with the same seed and
// inputs are identical.
type SDE struct {
	Substeps int
	Seed     int64
}

func newSDE(args map[string]any) (Integrator, error) {
	if err := checkKeys(args, "substeps", "seed"); err != nil {
		return nil, err
	}
	sub, err := intArg(args, "substeps", 1)
	if err != nil {
		return nil, err
	}
	if sub < 1 {
		sub = 1
	}
	seed, err := int64Arg(args, "seed", 0)
	if err != nil {
		return nil, err
	}
	return &SDE{Substeps: sub, Seed: seed}, nil
}

func noiseLike(rng *rand.Rand, v state.Value) state.Value {
	return state.Map(v, func(t *tensor.Tensor) *tensor.Tensor {
		return tensor.Randn(rng, t.Shape()...)
	})
}

func (s *SDE) Integrate(ctx context.Context, tp *tensor.Tape, prob Problem, x0 state.Value, tSpan []float64) ([]state.Value, error) {
	if err := checkSpan(tSpan); err != nil {
		return nil, err
	}
	if prob.Reverse == nil {
		return nil, ErrMissingReverse
	}

	rng := rand.New(rand.NewSource(s.Seed))
	traj := make([]state.Value, 0, len(tSpan))
	traj = append(traj, x0)
	x := x0
	for i := 0; i+1 < len(tSpan); i++ {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}
		t := tSpan[i]
		h := (tSpan[i+1] - tSpan[i]) / float64(s.Substeps)
		root := math.Sqrt(math.Abs(h))
		for sub := 0; sub < s.Substeps; sub++ {
			drift := prob.Reverse.SDEDrift(tp, t, x)
			x = state.AddScaled(tp, x, h, drift)
			x = state.AddScaled(tp, x, prob.Reverse.Diffusion(t)*root, noiseLike(rng, x))
			t += h
		}
		traj = append(traj, x)
	}
	return traj, nil
}
