package tensor

import (
	"fmt"
	"math"
)

func checkSameShape(op string, a, b *Tensor) {
	if !a.SameShape(b) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %v vs %v", op, a.shape, b.shape))
	}
}

// Add returns a + b elementwise, recording on tp when gradient-tracked.
func Add(tp *Tape, a, b *Tensor) *Tensor {
	checkSameShape("add", a, b)
	out := New(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + b.data[i]
	}
	if tp != nil && anyTracked(a, b) {
		tp.record(out, []*Tensor{a, b}, func() {
			if a.tracked {
				for i := range a.grad {
					a.grad[i] += out.grad[i]
				}
			}
			if b.tracked {
				for i := range b.grad {
					b.grad[i] += out.grad[i]
				}
			}
		})
	}
	return out
}

// Sub returns a - b elementwise.
func Sub(tp *Tape, a, b *Tensor) *Tensor {
	checkSameShape("sub", a, b)
	out := New(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] - b.data[i]
	}
	if tp != nil && anyTracked(a, b) {
		tp.record(out, []*Tensor{a, b}, func() {
			if a.tracked {
				for i := range a.grad {
					a.grad[i] += out.grad[i]
				}
			}
			if b.tracked {
				for i := range b.grad {
					b.grad[i] -= out.grad[i]
				}
			}
		})
	}
	return out
}

// Mul returns the elementwise product a * b.
func Mul(tp *Tape, a, b *Tensor) *Tensor {
	checkSameShape("mul", a, b)
	out := New(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] * b.data[i]
	}
	if tp != nil && anyTracked(a, b) {
		tp.record(out, []*Tensor{a, b}, func() {
			if a.tracked {
				for i := range a.grad {
					a.grad[i] += b.data[i] * out.grad[i]
				}
			}
			if b.tracked {
				for i := range b.grad {
					b.grad[i] += a.data[i] * out.grad[i]
				}
			}
		})
	}
	return out
}

// Scale returns s * a.
func Scale(tp *Tape, a *Tensor, s float64) *Tensor {
	out := New(a.shape...)
	for i := range out.data {
		out.data[i] = s * a.data[i]
	}
	if tp != nil && a.tracked {
		tp.record(out, []*Tensor{a}, func() {
			for i := range a.grad {
				a.grad[i] += s * out.grad[i]
			}
		})
	}
	return out
}

// AddScaled returns a + s*b, the integrator step primitive.
func AddScaled(tp *Tape, a *Tensor, s float64, b *Tensor) *Tensor {
	checkSameShape("addscaled", a, b)
	out := New(a.shape...)
	for i := range out.data {
		out.data[i] = a.data[i] + s*b.data[i]
	}
	if tp != nil && anyTracked(a, b) {
		tp.record(out, []*Tensor{a, b}, func() {
			if a.tracked {
				for i := range a.grad {
					a.grad[i] += out.grad[i]
				}
			}
			if b.tracked {
				for i := range b.grad {
					b.grad[i] += s * out.grad[i]
				}
			}
		})
	}
	return out
}

// MatMul multiplies a batch of row vectors x of shape (B, in) by a weight
// matrix w of shape (in, out), producing (B, out).
func MatMul(tp *Tape, x, w *Tensor) *Tensor {
	if x.Rank() != 2 || w.Rank() != 2 || x.shape[1] != w.shape[0] {
		panic(fmt.Sprintf("tensor: matmul shapes %v x %v", x.shape, w.shape))
	}
	bs, in, outDim := x.shape[0], x.shape[1], w.shape[1]
	out := New(bs, outDim)
	for b := 0; b < bs; b++ {
		xr := x.data[b*in : (b+1)*in]
		or := out.data[b*outDim : (b+1)*outDim]
		for i, xv := range xr {
			wr := w.data[i*outDim : (i+1)*outDim]
			for j, wv := range wr {
				or[j] += xv * wv
			}
		}
	}
	if tp != nil && anyTracked(x, w) {
		tp.record(out, []*Tensor{x, w}, func() {
			for b := 0; b < bs; b++ {
				gr := out.grad[b*outDim : (b+1)*outDim]
				if x.tracked {
					xg := x.grad[b*in : (b+1)*in]
					for i := 0; i < in; i++ {
						wr := w.data[i*outDim : (i+1)*outDim]
						for j := 0; j < outDim; j++ {
							xg[i] += wr[j] * gr[j]
						}
					}
				}
				if w.tracked {
					xr := x.data[b*in : (b+1)*in]
					for i := 0; i < in; i++ {
						wg := w.grad[i*outDim : (i+1)*outDim]
						for j := 0; j < outDim; j++ {
							wg[j] += xr[i] * gr[j]
						}
					}
				}
			}
		})
	}
	return out
}

// AddRow adds a row vector b of shape (n,) to every row of x of shape (B, n).
func AddRow(tp *Tape, x, b *Tensor) *Tensor {
	if x.Rank() != 2 || b.Rank() != 1 || x.shape[1] != b.shape[0] {
		panic(fmt.Sprintf("tensor: addrow shapes %v + %v", x.shape, b.shape))
	}
	bs, n := x.shape[0], x.shape[1]
	out := New(bs, n)
	for i := 0; i < bs; i++ {
		for j := 0; j < n; j++ {
			out.data[i*n+j] = x.data[i*n+j] + b.data[j]
		}
	}
	if tp != nil && anyTracked(x, b) {
		tp.record(out, []*Tensor{x, b}, func() {
			if x.tracked {
				for i := range x.grad {
					x.grad[i] += out.grad[i]
				}
			}
			if b.tracked {
				for i := 0; i < bs; i++ {
					for j := 0; j < n; j++ {
						b.grad[j] += out.grad[i*n+j]
					}
				}
			}
		})
	}
	return out
}

// ConcatCols concatenates two batches of row vectors along the feature axis:
// (B, n1) and (B, n2) become (B, n1+n2).
func ConcatCols(tp *Tape, a, b *Tensor) *Tensor {
	if a.Rank() != 2 || b.Rank() != 2 || a.shape[0] != b.shape[0] {
		panic(fmt.Sprintf("tensor: concat shapes %v | %v", a.shape, b.shape))
	}
	bs, n1, n2 := a.shape[0], a.shape[1], b.shape[1]
	out := New(bs, n1+n2)
	for i := 0; i < bs; i++ {
		copy(out.data[i*(n1+n2):], a.data[i*n1:(i+1)*n1])
		copy(out.data[i*(n1+n2)+n1:], b.data[i*n2:(i+1)*n2])
	}
	if tp != nil && anyTracked(a, b) {
		tp.record(out, []*Tensor{a, b}, func() {
			for i := 0; i < bs; i++ {
				gr := out.grad[i*(n1+n2) : (i+1)*(n1+n2)]
				if a.tracked {
					for j := 0; j < n1; j++ {
						a.grad[i*n1+j] += gr[j]
					}
				}
				if b.tracked {
					for j := 0; j < n2; j++ {
						b.grad[i*n2+j] += gr[n1+j]
					}
				}
			}
		})
	}
	return out
}

// Tanh applies the hyperbolic tangent elementwise.
func Tanh(tp *Tape, a *Tensor) *Tensor {
	out := New(a.shape...)
	for i := range out.data {
		out.data[i] = math.Tanh(a.data[i])
	}
	if tp != nil && a.tracked {
		tp.record(out, []*Tensor{a}, func() {
			for i := range a.grad {
				a.grad[i] += (1 - out.data[i]*out.data[i]) * out.grad[i]
			}
		})
	}
	return out
}

// Sum reduces all elements to a single-element tensor of shape (1,).
func Sum(tp *Tape, a *Tensor) *Tensor {
	out := New(1)
	for _, v := range a.data {
		out.data[0] += v
	}
	if tp != nil && a.tracked {
		tp.record(out, []*Tensor{a}, func() {
			for i := range a.grad {
				a.grad[i] += out.grad[0]
			}
		})
	}
	return out
}
