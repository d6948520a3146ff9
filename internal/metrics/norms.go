package metrics

import (
	"github.com/mkrein/genflow/internal/state"
)

type MeanNorm struct {
	name    string
	sum     float64
	samples int
}

func NewMeanNorm() *MeanNorm {
	return &MeanNorm{name: "mean_norm"}
}

func (m *MeanNorm) Name() string { return m.name }

func (m *MeanNorm) Observe(t float64, x state.Value) {
	m.sum += stateNorm(x)
	m.samples++
}

func (m *MeanNorm) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanNorm) Reset() {
	m.sum = 0
	m.samples = 0
}

type FinalNorm struct {
	name string
	last float64
	seen bool
}

func NewFinalNorm() *FinalNorm {
	return &FinalNorm{name: "final_norm"}
}

func (f *FinalNorm) Name() string { return f.name }

func (f *FinalNorm) Observe(t float64, x state.Value) {
	f.last = stateNorm(x)
	f.seen = true
}

func (f *FinalNorm) Value() float64 {
	if !f.seen {
		return 0
	}
	return f.last
}

func (f *FinalNorm) Reset() {
	f.last = 0
	f.seen = false
}

// PathLength accumulates the distance travelled between consecutive
// snapshots.
type PathLength struct {
	name  string
	total float64
	prev  state.Value
	seen  bool
}

func NewPathLength() *PathLength {
	return &PathLength{name: "path_length"}
}

func (p *PathLength) Name() string { return p.name }

func (p *PathLength) Observe(t float64, x state.Value) {
	if p.seen {
		diff := state.AddScaled(nil, x, -1, p.prev)
		p.total += stateNorm(diff)
	}
	p.prev = x
	p.seen = true
}

func (p *PathLength) Value() float64 { return p.total }

func (p *PathLength) Reset() {
	p.total = 0
	p.prev = nil
	p.seen = false
}
