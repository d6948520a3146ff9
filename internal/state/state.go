// Package state abstracts over the two sampling-state representations: a
// single flat tensor, or a named collection of tensors sharing one batch
// dimension ("tensor tree"). Every batch operation is defined once and
// applies uniformly to both; tree fields are visited in sorted-key order so
// all operations are deterministic.
package state

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/mkrein/genflow/internal/tensor"
)

var (
	// ErrFieldBatch indicates tree fields with differing leading sizes.
	ErrFieldBatch = errors.New("state: tree fields have mismatched batch sizes")

	// ErrShape indicates a value whose trailing shape does not match its spec.
	ErrShape = errors.New("state: value shape does not match configured state shape")

	// ErrSpec indicates an invalid state-shape specification.
	ErrSpec = errors.New("state: invalid state shape specification")
)

// Shape is the per-sample trailing shape of one field.
type Shape []int

// Numel returns the number of elements per sample.
func (s Shape) Numel() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports dimension-for-dimension equality.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Spec fixes the state layout at configuration time: either one flat
// trailing shape, or a trailing shape per named field.
type Spec struct {
	flat   Shape
	fields map[string]Shape
	keys   []string
}

// FlatSpec describes a flat state of the given trailing shape.
func FlatSpec(dims ...int) (Spec, error) {
	if len(dims) == 0 {
		return Spec{}, fmt.Errorf("%w: empty flat shape", ErrSpec)
	}
	for _, d := range dims {
		if d <= 0 {
			return Spec{}, fmt.Errorf("%w: dimension %d", ErrSpec, d)
		}
	}
	return Spec{flat: append(Shape(nil), dims...)}, nil
}

// TreeSpec describes a structured state with one trailing shape per field.
func TreeSpec(fields map[string]Shape) (Spec, error) {
	if len(fields) == 0 {
		return Spec{}, fmt.Errorf("%w: empty field set", ErrSpec)
	}
	keys := make([]string, 0, len(fields))
	cp := make(map[string]Shape, len(fields))
	for name, sh := range fields {
		if len(sh) == 0 {
			return Spec{}, fmt.Errorf("%w: field %q has empty shape", ErrSpec, name)
		}
		for _, d := range sh {
			if d <= 0 {
				return Spec{}, fmt.Errorf("%w: field %q dimension %d", ErrSpec, name, d)
			}
		}
		keys = append(keys, name)
		cp[name] = append(Shape(nil), sh...)
	}
	sort.Strings(keys)
	return Spec{fields: cp, keys: keys}, nil
}

// Tree reports whether the spec describes a structured state.
func (s Spec) Tree() bool { return s.fields != nil }

// FlatShape returns the trailing shape of a flat spec.
func (s Spec) FlatShape() Shape { return s.flat }

// Field returns the trailing shape of the named field.
func (s Spec) Field(name string) Shape { return s.fields[name] }

// Keys returns field names in sorted order.
func (s Spec) Keys() []string { return s.keys }

// Value is the closed union over the two state representations. The only
// implementations are [*Flat] and [*Tree].
type Value interface {
	BatchSize() int
	Clone() Value
	isValue()
}

// Flat is a plain tensor state of shape (batch, *stateShape).
type Flat struct {
	T *tensor.Tensor
}

// NewFlat wraps a tensor as a flat state value.
func NewFlat(t *tensor.Tensor) *Flat { return &Flat{T: t} }

func (f *Flat) BatchSize() int { return f.T.BatchSize() }
func (f *Flat) Clone() Value   { return &Flat{T: f.T.Clone()} }
func (f *Flat) isValue()       {}

// Tree is a structured state: named tensors sharing the leading batch axis.
type Tree struct {
	fields map[string]*tensor.Tensor
	keys   []string
}

// NewTree builds a tree state, eagerly rejecting mismatched per-field batch
// sizes.
func NewTree(fields map[string]*tensor.Tensor) (*Tree, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty tree", ErrFieldBatch)
	}
	keys := make([]string, 0, len(fields))
	for name := range fields {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	batch := fields[keys[0]].BatchSize()
	for _, name := range keys {
		if fields[name].BatchSize() != batch {
			return nil, fmt.Errorf("%w: field %q has %d, field %q has %d",
				ErrFieldBatch, keys[0], batch, name, fields[name].BatchSize())
		}
	}
	return &Tree{fields: fields, keys: keys}, nil
}

// Field returns the tensor stored under name, or nil.
func (t *Tree) Field(name string) *tensor.Tensor { return t.fields[name] }

// Keys returns field names in sorted order.
func (t *Tree) Keys() []string { return t.keys }

func (t *Tree) BatchSize() int { return t.fields[t.keys[0]].BatchSize() }

func (t *Tree) Clone() Value {
	fields := make(map[string]*tensor.Tensor, len(t.fields))
	for name, f := range t.fields {
		fields[name] = f.Clone()
	}
	return &Tree{fields: fields, keys: t.keys}
}

func (t *Tree) isValue() {}

func (t *Tree) mapped(f func(*tensor.Tensor) *tensor.Tensor) *Tree {
	fields := make(map[string]*tensor.Tensor, len(t.fields))
	for _, name := range t.keys {
		fields[name] = f(t.fields[name])
	}
	return &Tree{fields: fields, keys: t.keys}
}

// Map applies f to every tensor of v, preserving the representation.
func Map(v Value, f func(*tensor.Tensor) *tensor.Tensor) Value {
	switch s := v.(type) {
	case *Flat:
		return &Flat{T: f(s.T)}
	case *Tree:
		return s.mapped(f)
	default:
		panic("state: unknown value representation")
	}
}

// MapErr is Map for fallible per-tensor operations.
func MapErr(v Value, f func(*tensor.Tensor) (*tensor.Tensor, error)) (Value, error) {
	switch s := v.(type) {
	case *Flat:
		t, err := f(s.T)
		if err != nil {
			return nil, err
		}
		return &Flat{T: t}, nil
	case *Tree:
		fields := make(map[string]*tensor.Tensor, len(s.fields))
		for _, name := range s.keys {
			t, err := f(s.fields[name])
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			fields[name] = t
		}
		return &Tree{fields: fields, keys: s.keys}, nil
	default:
		panic("state: unknown value representation")
	}
}

// Zip combines matching tensors of a and b. Both values must share the same
// representation and field set; violations are programming errors.
func Zip(a, b Value, f func(x, y *tensor.Tensor) *tensor.Tensor) Value {
	switch sa := a.(type) {
	case *Flat:
		sb, ok := b.(*Flat)
		if !ok {
			panic("state: zip over mixed representations")
		}
		return &Flat{T: f(sa.T, sb.T)}
	case *Tree:
		sb, ok := b.(*Tree)
		if !ok {
			panic("state: zip over mixed representations")
		}
		fields := make(map[string]*tensor.Tensor, len(sa.fields))
		for _, name := range sa.keys {
			tb := sb.fields[name]
			if tb == nil {
				panic(fmt.Sprintf("state: zip missing field %q", name))
			}
			fields[name] = f(sa.fields[name], tb)
		}
		return &Tree{fields: fields, keys: sa.keys}
	default:
		panic("state: unknown value representation")
	}
}

// RepeatInterleave duplicates each batch entry of v k times contiguously.
func RepeatInterleave(v Value, k int) Value {
	return Map(v, func(t *tensor.Tensor) *tensor.Tensor { return t.RepeatInterleave(k) })
}

// AddScaled returns a + s*b across the whole value, recording on tp.
func AddScaled(tp *tensor.Tape, a Value, s float64, b Value) Value {
	return Zip(a, b, func(x, y *tensor.Tensor) *tensor.Tensor {
		return tensor.AddScaled(tp, x, s, y)
	})
}

// Scale returns s*v across the whole value.
func Scale(tp *tensor.Tape, v Value, s float64) Value {
	return Map(v, func(t *tensor.Tensor) *tensor.Tensor { return tensor.Scale(tp, t, s) })
}

// Validate checks that every per-sample trailing shape of v equals the spec
// exactly, dimension for dimension.
func Validate(v Value, spec Spec) error {
	switch s := v.(type) {
	case *Flat:
		if spec.Tree() {
			return fmt.Errorf("%w: flat value for tree spec", ErrShape)
		}
		if !Shape(s.T.TailShape()).Equal(spec.flat) {
			return fmt.Errorf("%w: got %v, want %v", ErrShape, s.T.TailShape(), spec.flat)
		}
	case *Tree:
		if !spec.Tree() {
			return fmt.Errorf("%w: tree value for flat spec", ErrShape)
		}
		if len(s.keys) != len(spec.keys) {
			return fmt.Errorf("%w: fields %v, want %v", ErrShape, s.keys, spec.keys)
		}
		for _, name := range spec.keys {
			f := s.fields[name]
			if f == nil {
				return fmt.Errorf("%w: missing field %q", ErrShape, name)
			}
			if !Shape(f.TailShape()).Equal(spec.fields[name]) {
				return fmt.Errorf("%w: field %q got %v, want %v",
					ErrShape, name, f.TailShape(), spec.fields[name])
			}
		}
	default:
		panic("state: unknown value representation")
	}
	return nil
}

// Gaussian draws a batch of n standard-normal samples laid out per the spec.
func Gaussian(rng *rand.Rand, spec Spec, n int) Value {
	if spec.Tree() {
		fields := make(map[string]*tensor.Tensor, len(spec.fields))
		for _, name := range spec.keys {
			fields[name] = tensor.Randn(rng, append([]int{n}, spec.fields[name]...)...)
		}
		return &Tree{fields: fields, keys: append([]string(nil), spec.keys...)}
	}
	return &Flat{T: tensor.Randn(rng, append([]int{n}, spec.flat...)...)}
}
