package process

import (
	"errors"
	"math"
	"testing"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

func TestParsePrediction(t *testing.T) {
	for _, s := range []string{"score", "noise", "data", "velocity"} {
		if _, err := ParsePrediction(s); err != nil {
			t.Errorf("ParsePrediction(%q) = %v", s, err)
		}
	}
	if _, err := ParsePrediction("epsilon"); !errors.Is(err, ErrPrediction) {
		t.Errorf("got %v, want ErrPrediction", err)
	}
}

func TestPathVariancePreserving(t *testing.T) {
	p := DefaultPath()

	if a := p.Alpha(0); math.Abs(a-1) > 1e-12 {
		t.Errorf("alpha(0) = %f, want 1", a)
	}

	for _, tt := range []float64{0.1, 0.25, 0.5, 0.75, 1.0} {
		a, s := p.Alpha(tt), p.Sigma(tt)
		if v := a*a + s*s; math.Abs(v-1) > 1e-9 {
			t.Errorf("alpha^2+sigma^2 at t=%f is %f", tt, v)
		}
	}

	if p.Alpha(1.0) >= p.Alpha(0.5) {
		t.Error("alpha should decrease with t")
	}
	if p.Beta(0) != p.BetaMin || p.Beta(1) != p.BetaMax {
		t.Error("beta should interpolate between BetaMin and BetaMax")
	}
	if g := p.Diffusion(0.5); math.Abs(g-math.Sqrt(p.Beta(0.5))) > 1e-12 {
		t.Errorf("diffusion = %f, want sqrt(beta)", g)
	}
}

// constModel returns a fixed output regardless of (t, x).
func constModel(vals ...float64) ModelFunc {
	return func(tp *tensor.Tape, tt float64, x state.Value) state.Value {
		return state.NewFlat(tensor.FromSlice(vals, 1, len(vals)))
	}
}

func flatData(v state.Value) []float64 {
	return v.(*state.Flat).T.Data()
}

// Whatever the declared prediction type, the derived score and noise must
// stay related by eps = -sigma * score.
func TestScoreNoiseConsistency(t *testing.T) {
	path := DefaultPath()
	x := state.NewFlat(tensor.FromSlice([]float64{0.7, -1.2}, 1, 2))
	tt := 0.6
	_, sigma := NewReverse(path, nil, Score).Schedule(tt)

	for _, kind := range []PredictionType{Score, Noise, Data, Velocity} {
		r := NewReverse(path, constModel(0.3, -0.5), kind)
		score := flatData(r.Score(nil, tt, x))
		eps := flatData(r.Noise(nil, tt, x))
		for i := range score {
			if math.Abs(eps[i]+sigma*score[i]) > 1e-9 {
				t.Errorf("%s: eps[%d]=%f, -sigma*score=%f", kind, i, eps[i], -sigma*score[i])
			}
		}
	}
}

func TestScoreIdentityForScoreKind(t *testing.T) {
	r := NewReverse(DefaultPath(), constModel(0.25), Score)
	x := state.NewFlat(tensor.FromSlice([]float64{1}, 1, 1))
	got := flatData(r.Score(nil, 0.5, x))
	if math.Abs(got[0]-0.25) > 1e-12 {
		t.Errorf("score output = %f, want model output 0.25", got[0])
	}
}

func TestDriftFormulas(t *testing.T) {
	path := DefaultPath()
	r := NewReverse(path, constModel(0.4), Score)
	x := state.NewFlat(tensor.FromSlice([]float64{2}, 1, 1))
	tt := 0.3
	beta := path.Beta(tt)

	// probability-flow: -1/2 beta (x + score)
	ode := flatData(r.Drift(nil, tt, x))[0]
	wantODE := -0.5 * beta * (2 + 0.4)
	if math.Abs(ode-wantODE) > 1e-12 {
		t.Errorf("ode drift = %f, want %f", ode, wantODE)
	}

	// reverse SDE: -1/2 beta x - beta score
	sde := flatData(r.SDEDrift(nil, tt, x))[0]
	wantSDE := -0.5*beta*2 - beta*0.4
	if math.Abs(sde-wantSDE) > 1e-12 {
		t.Errorf("sde drift = %f, want %f", sde, wantSDE)
	}
}

func TestSigmaClamp(t *testing.T) {
	p := DefaultPath()
	if s := p.Sigma(0); s < 1e-6 {
		t.Errorf("sigma(0) = %g, want clamp at 1e-6", s)
	}
}
