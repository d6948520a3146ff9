// Package metrics collects summary statistics over sampled trajectories.
package metrics

import (
	"math"

	"github.com/mkrein/genflow/internal/state"
)

type Metric interface {
	Name() string
	Observe(t float64, x state.Value)
	Value() float64
	Reset()
}

func stateNorm(v state.Value) float64 {
	switch x := v.(type) {
	case *state.Flat:
		return x.T.Norm()
	case *state.Tree:
		var sq float64
		for _, name := range x.Keys() {
			n := x.Field(name).Norm()
			sq += n * n
		}
		return math.Sqrt(sq)
	}
	return 0
}

// Summarize runs every metric over the trajectory and returns the
// resulting name-to-value map.
func Summarize(times []float64, traj []state.Value, ms ...Metric) map[string]float64 {
	for _, m := range ms {
		m.Reset()
	}
	for i, x := range traj {
		for _, m := range ms {
			m.Observe(times[i], x)
		}
	}
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
