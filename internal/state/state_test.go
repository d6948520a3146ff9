package state

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/mkrein/genflow/internal/tensor"
)

func TestFlatSpec(t *testing.T) {
	spec, err := FlatSpec(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if spec.Tree() {
		t.Error("flat spec reported as tree")
	}
	if spec.FlatShape().Numel() != 6 {
		t.Errorf("numel = %d, want 6", spec.FlatShape().Numel())
	}

	if _, err := FlatSpec(); !errors.Is(err, ErrSpec) {
		t.Errorf("empty shape: got %v, want ErrSpec", err)
	}
	if _, err := FlatSpec(0); !errors.Is(err, ErrSpec) {
		t.Errorf("zero dimension: got %v, want ErrSpec", err)
	}
}

func TestTreeSpecSortedKeys(t *testing.T) {
	spec, err := TreeSpec(map[string]Shape{
		"observation": {4},
		"action":      {2},
	})
	if err != nil {
		t.Fatal(err)
	}
	keys := spec.Keys()
	if len(keys) != 2 || keys[0] != "action" || keys[1] != "observation" {
		t.Errorf("keys = %v, want sorted [action observation]", keys)
	}
	if !spec.Field("action").Equal(Shape{2}) {
		t.Errorf("action shape = %v", spec.Field("action"))
	}
}

func TestNewTreeBatchMismatch(t *testing.T) {
	_, err := NewTree(map[string]*tensor.Tensor{
		"a": tensor.New(2, 3),
		"b": tensor.New(4, 3),
	})
	if !errors.Is(err, ErrFieldBatch) {
		t.Errorf("got %v, want ErrFieldBatch", err)
	}
}

func TestTreeBatchAndClone(t *testing.T) {
	tree, err := NewTree(map[string]*tensor.Tensor{
		"a": tensor.FromSlice([]float64{1, 2}, 2, 1),
		"b": tensor.FromSlice([]float64{3, 4, 5, 6}, 2, 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if tree.BatchSize() != 2 {
		t.Errorf("batch = %d, want 2", tree.BatchSize())
	}

	clone := tree.Clone().(*Tree)
	clone.Field("a").Data()[0] = 99
	if tree.Field("a").Data()[0] == 99 {
		t.Error("clone shares field storage with the original")
	}
}

func TestRepeatInterleaveTree(t *testing.T) {
	tree, err := NewTree(map[string]*tensor.Tensor{
		"x": tensor.FromSlice([]float64{1, 2}, 2, 1),
	})
	if err != nil {
		t.Fatal(err)
	}

	out := RepeatInterleave(tree, 2).(*Tree)
	if out.BatchSize() != 4 {
		t.Fatalf("batch = %d, want 4", out.BatchSize())
	}
	want := []float64{1, 1, 2, 2}
	for i, v := range want {
		if out.Field("x").Data()[i] != v {
			t.Errorf("data[%d] = %f, want %f", i, out.Field("x").Data()[i], v)
		}
	}
}

func TestAddScaledBothRepresentations(t *testing.T) {
	a := NewFlat(tensor.FromSlice([]float64{1, 2}, 2))
	b := NewFlat(tensor.FromSlice([]float64{10, 20}, 2))
	out := AddScaled(nil, a, 0.5, b).(*Flat)
	if out.T.Data()[0] != 6 || out.T.Data()[1] != 12 {
		t.Errorf("flat addscaled = %v", out.T.Data())
	}

	ta, _ := NewTree(map[string]*tensor.Tensor{"x": tensor.FromSlice([]float64{1}, 1, 1)})
	tb, _ := NewTree(map[string]*tensor.Tensor{"x": tensor.FromSlice([]float64{4}, 1, 1)})
	tout := AddScaled(nil, ta, 2, tb).(*Tree)
	if tout.Field("x").Data()[0] != 9 {
		t.Errorf("tree addscaled = %v", tout.Field("x").Data())
	}
}

func TestZipMixedRepresentationsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for mixed representations")
		}
	}()
	flat := NewFlat(tensor.New(1, 2))
	tree, _ := NewTree(map[string]*tensor.Tensor{"x": tensor.New(1, 2)})
	Zip(flat, tree, func(x, y *tensor.Tensor) *tensor.Tensor { return x })
}

func TestValidate(t *testing.T) {
	spec, _ := FlatSpec(3)

	ok := NewFlat(tensor.New(5, 3))
	if err := Validate(ok, spec); err != nil {
		t.Errorf("valid value rejected: %v", err)
	}

	bad := NewFlat(tensor.New(5, 4))
	if err := Validate(bad, spec); !errors.Is(err, ErrShape) {
		t.Errorf("got %v, want ErrShape", err)
	}

	treeSpec, _ := TreeSpec(map[string]Shape{"a": {2}})
	if err := Validate(ok, treeSpec); !errors.Is(err, ErrShape) {
		t.Errorf("flat value for tree spec: got %v, want ErrShape", err)
	}

	tree, _ := NewTree(map[string]*tensor.Tensor{"a": tensor.New(5, 3)})
	if err := Validate(tree, treeSpec); !errors.Is(err, ErrShape) {
		t.Errorf("wrong field shape: got %v, want ErrShape", err)
	}
}

func TestGaussian(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	spec, _ := FlatSpec(3)
	v := Gaussian(rng, spec, 4).(*Flat)
	if v.BatchSize() != 4 || v.T.Len() != 12 {
		t.Errorf("flat draw shape %v", v.T.Shape())
	}

	treeSpec, _ := TreeSpec(map[string]Shape{"a": {2}, "b": {5}})
	tv := Gaussian(rng, treeSpec, 3).(*Tree)
	if tv.BatchSize() != 3 {
		t.Errorf("tree batch = %d, want 3", tv.BatchSize())
	}
	if tv.Field("b").Len() != 15 {
		t.Errorf("field b len = %d, want 15", tv.Field("b").Len())
	}
	if err := Validate(tv, treeSpec); err != nil {
		t.Errorf("gaussian draw fails validation: %v", err)
	}
}
