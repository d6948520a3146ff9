package batch

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/onsi/gomega"

	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

func flatSpec(t *testing.T, dims ...int) state.Spec {
	t.Helper()
	spec, err := state.FlatSpec(dims...)
	if err != nil {
		t.Fatal(err)
	}
	return spec
}

func draw(spec state.Spec) func(int) state.Value {
	rng := rand.New(rand.NewSource(7))
	return func(n int) state.Value { return state.Gaussian(rng, spec, n) }
}

func flatShape(v state.Value) []int {
	return v.(*state.Flat).T.Shape()
}

// The restore regimes: which axes survive depends on whether the caller
// passed a batch shape and whether x0/condition implied a data batch.
func TestRestoreRegimes(t *testing.T) {
	g := gomega.NewWithT(t)
	x5 := state.NewFlat(tensor.New(5, 3))

	cases := []struct {
		name  string
		bs    *Shape
		x0    state.Value
		total int
		want  []int
	}{
		{"no batch, no data", nil, nil, 1, []int{3}},
		{"no batch, data 5", nil, x5, 5, []int{5, 3}},
		{"batch (2,3), no data", Dims(2, 3), nil, 6, []int{2, 3, 3}},
		{"batch 4, data 5", Scalar(4), x5, 20, []int{4, 5, 3}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := gomega.NewWithT(t)
			plan, err := NewPlan(tc.bs, tc.x0, nil)
			g.Expect(err).NotTo(gomega.HaveOccurred())
			g.Expect(plan.Total()).To(gomega.Equal(tc.total))

			snapshot := state.NewFlat(tensor.New(plan.Total(), 3))
			out, err := plan.Restore(snapshot)
			g.Expect(err).NotTo(gomega.HaveOccurred())
			g.Expect(flatShape(out)).To(gomega.Equal(tc.want))
		})
	}

	// condition alone implies the data batch the same way x0 does
	plan, err := NewPlan(nil, nil, state.NewFlat(tensor.New(5, 2)))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	out, err := plan.Restore(state.NewFlat(tensor.New(5, 3)))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(flatShape(out)).To(gomega.Equal([]int{5, 3}))
}

func TestRestoreTree(t *testing.T) {
	g := gomega.NewWithT(t)
	plan, err := NewPlan(Dims(2, 3), nil, nil)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	snapshot, err := state.NewTree(map[string]*tensor.Tensor{
		"action":      tensor.New(6, 2),
		"observation": tensor.New(6, 4),
	})
	g.Expect(err).NotTo(gomega.HaveOccurred())

	out, err := plan.Restore(snapshot)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	tree := out.(*state.Tree)
	g.Expect(tree.Field("action").Shape()).To(gomega.Equal([]int{2, 3, 2}))
	g.Expect(tree.Field("observation").Shape()).To(gomega.Equal([]int{2, 3, 4}))
}

func TestNewPlanMismatch(t *testing.T) {
	x0 := state.NewFlat(tensor.New(5, 3))
	cond := state.NewFlat(tensor.New(4, 2))
	if _, err := NewPlan(nil, x0, cond); !errors.Is(err, ErrMismatch) {
		t.Errorf("got %v, want ErrMismatch", err)
	}
}

func TestNewPlanInvalidShape(t *testing.T) {
	if _, err := NewPlan(Dims(), nil, nil); !errors.Is(err, ErrInvalidShape) {
		t.Errorf("empty dims: got %v, want ErrInvalidShape", err)
	}
	if _, err := NewPlan(Dims(2, 0), nil, nil); !errors.Is(err, ErrInvalidShape) {
		t.Errorf("zero dim: got %v, want ErrInvalidShape", err)
	}
}

func TestExpandInitialRepeatOrdering(t *testing.T) {
	spec := flatSpec(t, 1)
	plan, err := NewPlan(Scalar(2), state.NewFlat(tensor.FromSlice([]float64{1, 2}, 2, 1)), nil)
	if err != nil {
		t.Fatal(err)
	}

	x0 := state.NewFlat(tensor.FromSlice([]float64{1, 2}, 2, 1))
	out, err := plan.ExpandInitial(x0, spec, draw(spec))
	if err != nil {
		t.Fatal(err)
	}

	// sample i occupies the contiguous block [i*k, (i+1)*k)
	want := []float64{1, 1, 2, 2}
	got := out.(*state.Flat).T.Data()
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("data[%d] = %f, want %f", i, got[i], v)
		}
	}
}

func TestExpandInitialValidates(t *testing.T) {
	spec := flatSpec(t, 3)
	x0 := state.NewFlat(tensor.New(2, 4))
	plan, err := NewPlan(nil, x0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := plan.ExpandInitial(x0, spec, draw(spec)); !errors.Is(err, state.ErrShape) {
		t.Errorf("got %v, want state.ErrShape", err)
	}
}

func TestExpandInitialDraws(t *testing.T) {
	spec := flatSpec(t, 3)
	plan, err := NewPlan(Dims(2, 3), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := plan.ExpandInitial(nil, spec, draw(spec))
	if err != nil {
		t.Fatal(err)
	}
	if out.BatchSize() != 6 {
		t.Errorf("drawn batch = %d, want 6", out.BatchSize())
	}
}

func TestExpandCondition(t *testing.T) {
	plan, err := NewPlan(Scalar(3), nil, state.NewFlat(tensor.New(2, 4)))
	if err != nil {
		t.Fatal(err)
	}
	if plan.ExpandCondition(nil) != nil {
		t.Error("nil condition should stay nil")
	}
	out := plan.ExpandCondition(state.NewFlat(tensor.New(2, 4)))
	if out.BatchSize() != 6 {
		t.Errorf("expanded condition batch = %d, want 6", out.BatchSize())
	}
}

func TestRestoreWrongFlatSize(t *testing.T) {
	plan, err := NewPlan(Scalar(4), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := plan.Restore(state.NewFlat(tensor.New(3, 2))); !errors.Is(err, ErrFlatSize) {
		t.Errorf("got %v, want ErrFlatSize", err)
	}
}
