package tensor

// Tape records operations for reverse-mode differentiation. A nil *Tape is
// the no-gradient mode: operations compute forward results only and retain
// nothing. Tapes are not safe for concurrent use; each gradient-tracked
// sampling call owns its own tape.
type Tape struct {
	ops     []func()
	watched []*Tensor
}

// NewTape returns an empty tape.
func NewTape() *Tape {
	return &Tape{}
}

// Watch marks t as a differentiation target (typically a model parameter)
// and allocates its gradient buffer.
func (tp *Tape) Watch(t *Tensor) {
	t.tracked = true
	t.ensureGrad()
	tp.watched = append(tp.watched, t)
}

// Watched returns the tensors registered via Watch, in registration order.
func (tp *Tape) Watched() []*Tensor { return tp.watched }

// Len returns the number of recorded operations.
func (tp *Tape) Len() int { return len(tp.ops) }

// Reset discards recorded operations and zeroes watched gradients, keeping
// the watch list.
func (tp *Tape) Reset() {
	tp.ops = nil
	for _, t := range tp.watched {
		for i := range t.grad {
			t.grad[i] = 0
		}
	}
}

// Backward seeds the gradient of out with ones (treating any non-scalar
// output as if summed) and replays the tape in reverse, accumulating into
// the gradient buffers of every tracked tensor.
func (tp *Tape) Backward(out *Tensor) {
	out.ensureGrad()
	for i := range out.grad {
		out.grad[i] += 1
	}
	for i := len(tp.ops) - 1; i >= 0; i-- {
		tp.ops[i]()
	}
}

// record registers a backward closure for an operation whose inputs include
// at least one tracked tensor. The result is marked tracked so downstream
// operations keep recording.
func (tp *Tape) record(result *Tensor, inputs []*Tensor, backward func()) {
	result.tracked = true
	result.ensureGrad()
	for _, in := range inputs {
		if in.tracked {
			in.ensureGrad()
		}
	}
	tp.ops = append(tp.ops, backward)
}

func anyTracked(ts ...*Tensor) bool {
	for _, t := range ts {
		if t.tracked {
			return true
		}
	}
	return false
}
