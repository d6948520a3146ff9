package engine_test

import (
	"context"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkrein/genflow/internal/batch"
	"github.com/mkrein/genflow/internal/engine"
	"github.com/mkrein/genflow/internal/model"
	"github.com/mkrein/genflow/internal/process"
	"github.com/mkrein/genflow/internal/solver"
	"github.com/mkrein/genflow/internal/state"
	"github.com/mkrein/genflow/internal/tensor"
)

func span(from, to float64, n int) []float64 {
	pts := make([]float64, n)
	for i := range pts {
		pts[i] = from + (to-from)*float64(i)/float64(n-1)
	}
	return pts
}

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		flatSpec state.Spec
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		flatSpec, err = state.FlatSpec(3)
		Expect(err).NotTo(HaveOccurred())
	})

	newFlatEngine := func() *engine.Engine {
		e, err := engine.New(engine.Config{
			Spec:   flatSpec,
			Solver: &solver.Config{Type: "rk4"},
			Seed:   42,
		}, &model.OU{Theta: 1})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	Describe("construction", func() {
		It("rejects a nil model", func() {
			_, err := engine.New(engine.Config{Spec: flatSpec}, nil)
			Expect(err).To(MatchError(engine.ErrNoModel))
		})

		It("rejects an empty state spec", func() {
			_, err := engine.New(engine.Config{}, &model.OU{Theta: 1})
			Expect(err).To(MatchError(state.ErrSpec))
		})

		It("rejects an unknown default solver eagerly", func() {
			_, err := engine.New(engine.Config{
				Spec:   flatSpec,
				Solver: &solver.Config{Type: "verlet"},
			}, &model.OU{Theta: 1})
			Expect(err).To(MatchError(solver.ErrUnknownSolver))
		})
	})

	Describe("trajectory shapes", func() {
		it := func(name string, opts engine.Options, want []int) {
			It(name, func() {
				e := newFlatEngine()
				opts.TSpan = span(0, 1, 9)
				traj, err := e.SampleForwardProcess(ctx, opts)
				Expect(err).NotTo(HaveOccurred())
				Expect(traj).To(HaveLen(9))
				for _, snap := range traj {
					Expect(snap.(*state.Flat).T.Shape()).To(Equal(want))
				}
			})
		}

		it("fully squeezes with no batch and no data",
			engine.Options{}, []int{3})

		it("keeps the data batch when an initial state is supplied",
			engine.Options{X0: state.NewFlat(tensor.Randn(rand.New(rand.NewSource(1)), 5, 3))},
			[]int{5, 3})

		it("keeps explicit dims and squeezes the singleton data batch",
			engine.Options{Batch: batch.Dims(2, 3)}, []int{2, 3, 3})

		it("keeps both explicit dims and the data batch",
			engine.Options{
				Batch: batch.Scalar(4),
				X0:    state.NewFlat(tensor.Randn(rand.New(rand.NewSource(2)), 5, 3)),
			},
			[]int{4, 5, 3})
	})

	Describe("Sample", func() {
		It("returns the final snapshot of the forward process", func() {
			e := newFlatEngine()
			x0 := state.NewFlat(tensor.FromSlice([]float64{1, 2, 3}, 1, 3))
			opts := engine.Options{TSpan: span(0, 1, 9), X0: x0}

			traj, err := e.SampleForwardProcess(ctx, opts)
			Expect(err).NotTo(HaveOccurred())
			final, err := e.Sample(ctx, opts)
			Expect(err).NotTo(HaveOccurred())

			Expect(final.(*state.Flat).T.Data()).To(Equal(
				traj[len(traj)-1].(*state.Flat).T.Data()))
		})

		It("is deterministic for a fixed initial state", func() {
			e := newFlatEngine()
			opts := engine.Options{
				TSpan: span(0, 1, 9),
				X0:    state.NewFlat(tensor.FromSlice([]float64{1, -1, 0.5}, 1, 3)),
			}

			a, err := e.Sample(ctx, opts)
			Expect(err).NotTo(HaveOccurred())
			b, err := e.Sample(ctx, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(a.(*state.Flat).T.Data()).To(Equal(b.(*state.Flat).T.Data()))
		})

		It("requires at least two time points", func() {
			_, err := newFlatEngine().Sample(ctx, engine.Options{TSpan: []float64{0}})
			Expect(err).To(MatchError(engine.ErrTimeSpan))
		})

		It("requires a solver from somewhere", func() {
			e, err := engine.New(engine.Config{Spec: flatSpec}, &model.OU{Theta: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Sample(ctx, engine.Options{TSpan: span(0, 1, 4)})
			Expect(err).To(MatchError(engine.ErrNoSolver))
		})

		It("accepts a per-call solver override", func() {
			e, err := engine.New(engine.Config{Spec: flatSpec}, &model.OU{Theta: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = e.Sample(ctx, engine.Options{
				TSpan:  span(0, 1, 4),
				Solver: &solver.Config{Type: "euler"},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects mismatched x0 and condition batches", func() {
			rng := rand.New(rand.NewSource(3))
			_, err := newFlatEngine().Sample(ctx, engine.Options{
				TSpan:     span(0, 1, 4),
				X0:        state.NewFlat(tensor.Randn(rng, 2, 3)),
				Condition: state.NewFlat(tensor.Randn(rng, 5, 1)),
			})
			Expect(err).To(MatchError(batch.ErrMismatch))
		})

		It("needs a process for structured solvers", func() {
			_, err := newFlatEngine().Sample(ctx, engine.Options{
				TSpan:  span(1, 0.001, 8),
				Solver: &solver.Config{Type: "sde"},
			})
			Expect(err).To(MatchError(engine.ErrNoProcess))
		})
	})

	Describe("gradient mode", func() {
		It("backpropagates through sampling to the model parameters", func() {
			rng := rand.New(rand.NewSource(4))
			mlp := model.NewMLP(rng, 3, 0, 4)
			e, err := engine.New(engine.Config{
				Spec:   flatSpec,
				Solver: &solver.Config{Type: "euler"},
				Seed:   1,
			}, mlp)
			Expect(err).NotTo(HaveOccurred())

			tp := tensor.NewTape()
			final, err := e.Sample(ctx, engine.Options{
				TSpan: span(0, 1, 5),
				X0:    state.NewFlat(tensor.Randn(rng, 2, 3)),
				Grad:  tp,
			})
			Expect(err).NotTo(HaveOccurred())

			tp.Backward(tensor.Sum(tp, final.(*state.Flat).T))
			nonzero := false
			for _, p := range mlp.Parameters() {
				for _, g := range p.Grad() {
					if g != 0 {
						nonzero = true
					}
				}
			}
			Expect(nonzero).To(BeTrue(), "expected some nonzero parameter gradient")
		})

		It("retains no graph on the no-gradient path", func() {
			rng := rand.New(rand.NewSource(5))
			mlp := model.NewMLP(rng, 3, 0, 4)
			e, err := engine.New(engine.Config{
				Spec:   flatSpec,
				Solver: &solver.Config{Type: "euler"},
			}, mlp)
			Expect(err).NotTo(HaveOccurred())

			traj, err := e.SampleForwardProcess(ctx, engine.Options{TSpan: span(0, 1, 5)})
			Expect(err).NotTo(HaveOccurred())

			for _, snap := range traj {
				Expect(snap.(*state.Flat).T.Grad()).To(BeNil(),
					"nil-tape sampling should allocate no gradient buffers")
			}
			for _, p := range mlp.Parameters() {
				Expect(p.Grad()).To(BeNil(),
					"nil-tape sampling should not watch model parameters")
			}
		})
	})

	Describe("tree state", func() {
		var treeSpec state.Spec

		BeforeEach(func() {
			var err error
			treeSpec, err = state.TreeSpec(map[string]state.Shape{
				"action":      {2},
				"observation": {4},
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("samples trees with the structured family", func() {
			e, err := engine.New(engine.Config{
				Spec:   treeSpec,
				Solver: &solver.Config{Type: "tree_ode"},
				Seed:   7,
			}, model.GaussScore{}, engine.WithProcess(process.DefaultPath(), process.Score))
			Expect(err).NotTo(HaveOccurred())

			final, err := e.Sample(ctx, engine.Options{
				TSpan: span(1, 0.001, 8),
				Batch: batch.Dims(2),
			})
			Expect(err).NotTo(HaveOccurred())

			tree := final.(*state.Tree)
			Expect(tree.Field("action").Shape()).To(Equal([]int{2, 2}))
			Expect(tree.Field("observation").Shape()).To(Equal([]int{2, 4}))
		})

		It("refuses trees on the direct-drift family", func() {
			e, err := engine.New(engine.Config{
				Spec:   treeSpec,
				Solver: &solver.Config{Type: "rk4"},
			}, &model.OU{Theta: 1})
			Expect(err).NotTo(HaveOccurred())

			_, err = e.Sample(ctx, engine.Options{TSpan: span(0, 1, 4)})
			Expect(err).To(MatchError(solver.ErrNotImplemented))
		})
	})

	Describe("Ensemble", func() {
		It("collects one result per run", func() {
			en := engine.NewEnsemble(newFlatEngine(), 8)
			results, err := en.Sample(ctx, engine.Options{TSpan: span(0, 1, 5)})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(8))
			for _, r := range results {
				Expect(r.(*state.Flat).T.Shape()).To(Equal([]int{3}))
				Expect(r.(*state.Flat).T.IsValid()).To(BeTrue())
			}
		})
	})
})
