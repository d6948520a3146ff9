// Package tensor provides the numeric value type for the sampling engine.
//
// A [Tensor] is a dense float64 buffer with an explicit shape whose leading
// axis is the batch dimension. Arithmetic is provided as package functions
// that optionally record onto a [Tape] for reverse-mode differentiation:
//
//   - [Add], [Sub], [Mul], [Scale], [AddScaled]: elementwise
//   - [MatMul], [AddRow], [Tanh], [Sum]: network building blocks
//   - [Tensor.RepeatInterleave], [Tensor.ReshapeLeading], [Tensor.Squeeze]:
//     batch-shape surgery
//
// Reshape and squeeze share the underlying buffer (and gradient buffer),
// so they are transparent to backpropagation.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor is a dense float64 array. The zero value is not usable; construct
// with New, FromSlice, Full or Randn.
type Tensor struct {
	data    []float64
	shape   []int
	grad    []float64
	tracked bool
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New returns a zero-filled tensor of the given shape.
func New(shape ...int) *Tensor {
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("tensor: non-positive dimension %d in shape %v", d, shape))
		}
	}
	cp := make([]int, len(shape))
	copy(cp, shape)
	return &Tensor{data: make([]float64, numel(cp)), shape: cp}
}

// FromSlice wraps data (copied) with the given shape.
func FromSlice(data []float64, shape ...int) *Tensor {
	t := New(shape...)
	if len(data) != len(t.data) {
		panic(fmt.Sprintf("tensor: %d values for shape %v", len(data), shape))
	}
	copy(t.data, data)
	return t
}

// Full returns a tensor of the given shape with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// Randn returns a tensor with standard normal entries drawn from rng.
func Randn(rng *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = rng.NormFloat64()
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	cp := make([]int, len(t.shape))
	copy(cp, t.shape)
	return cp
}

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// BatchSize returns the size of the leading axis.
func (t *Tensor) BatchSize() int {
	if len(t.shape) == 0 {
		return 1
	}
	return t.shape[0]
}

// Data returns the underlying buffer. Mutating it mutates the tensor.
func (t *Tensor) Data() []float64 { return t.data }

// At returns the element at the given multi-index.
func (t *Tensor) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index rank %d for shape %v", len(idx), t.shape))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + x
	}
	return off
}

// Clone returns a deep copy without gradient state.
func (t *Tensor) Clone() *Tensor {
	c := New(t.shape...)
	copy(c.data, t.data)
	return c
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != o.shape[i] {
			return false
		}
	}
	return true
}

// TailShape returns the shape without the leading batch axis.
func (t *Tensor) TailShape() []int {
	if len(t.shape) == 0 {
		return nil
	}
	cp := make([]int, len(t.shape)-1)
	copy(cp, t.shape[1:])
	return cp
}

// RepeatInterleave duplicates each leading-axis entry k times contiguously:
// entry i of the input occupies rows [i*k, (i+1)*k) of the output. The
// block ordering is load-bearing; batch reshaping inverts it.
func (t *Tensor) RepeatInterleave(k int) *Tensor {
	if k < 1 {
		panic(fmt.Sprintf("tensor: repeat factor %d", k))
	}
	n := t.BatchSize()
	row := len(t.data) / n
	shape := t.Shape()
	shape[0] = n * k
	out := New(shape...)
	for i := 0; i < n; i++ {
		src := t.data[i*row : (i+1)*row]
		for j := 0; j < k; j++ {
			copy(out.data[(i*k+j)*row:(i*k+j+1)*row], src)
		}
	}
	return out
}

// ReshapeLeading reinterprets the leading axis as the given leading shape,
// keeping the trailing axes. The result shares the data (and gradient)
// buffer with t.
func (t *Tensor) ReshapeLeading(lead ...int) (*Tensor, error) {
	if numel(lead) != t.BatchSize() {
		return nil, fmt.Errorf("tensor: cannot reshape leading axis %d into %v", t.BatchSize(), lead)
	}
	shape := make([]int, 0, len(lead)+len(t.shape)-1)
	shape = append(shape, lead...)
	shape = append(shape, t.shape[1:]...)
	return &Tensor{data: t.data, shape: shape, grad: t.grad, tracked: t.tracked}, nil
}

// Squeeze removes a size-1 axis at the given position, sharing the data
// (and gradient) buffer with t.
func (t *Tensor) Squeeze(axis int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.shape) {
		return nil, fmt.Errorf("tensor: squeeze axis %d out of range for shape %v", axis, t.shape)
	}
	if t.shape[axis] != 1 {
		return nil, fmt.Errorf("tensor: squeeze axis %d has size %d in shape %v", axis, t.shape[axis], t.shape)
	}
	shape := make([]int, 0, len(t.shape)-1)
	shape = append(shape, t.shape[:axis]...)
	shape = append(shape, t.shape[axis+1:]...)
	return &Tensor{data: t.data, shape: shape, grad: t.grad, tracked: t.tracked}, nil
}

// Norm returns the Euclidean norm of all elements.
func (t *Tensor) Norm() float64 {
	sum := 0.0
	for _, v := range t.data {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// IsValid reports whether the tensor is free of NaN and Inf values.
func (t *Tensor) IsValid() bool {
	for _, v := range t.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Grad returns the accumulated gradient buffer, or nil if the tensor was
// never tracked by a tape.
func (t *Tensor) Grad() []float64 { return t.grad }

func (t *Tensor) ensureGrad() {
	if t.grad == nil {
		t.grad = make([]float64, len(t.data))
	}
}
