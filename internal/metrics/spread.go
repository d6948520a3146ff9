package metrics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/mkrein/genflow/internal/state"
)

// Spread reports the standard deviation of the components of the last
// observed snapshot. For a well-mixed sample from a standard normal it
// should sit near one.
type Spread struct {
	name string
	last []float64
}

func NewSpread() *Spread {
	return &Spread{name: "spread"}
}

func (s *Spread) Name() string { return s.name }

func (s *Spread) Observe(t float64, x state.Value) {
	s.last = s.last[:0]
	switch v := x.(type) {
	case *state.Flat:
		s.last = append(s.last, v.T.Data()...)
	case *state.Tree:
		for _, name := range v.Keys() {
			s.last = append(s.last, v.Field(name).Data()...)
		}
	}
}

func (s *Spread) Value() float64 {
	if len(s.last) < 2 {
		return 0
	}
	return stat.StdDev(s.last, nil)
}

func (s *Spread) Reset() {
	s.last = s.last[:0]
}
