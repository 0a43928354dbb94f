package runner_test

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/atomflow/atomflow/internal/engine"
	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/runner"
	"github.com/atomflow/atomflow/internal/stream"
	"github.com/atomflow/atomflow/internal/structure"
)

// fakePot returns canned forces and counts evaluations. onEval, when set,
// runs before each evaluation returns.
type fakePot struct {
	name    string
	force   func(eval int, s *structure.Structure) []float64
	species []string
	evals   atomic.Int64
	onEval  func(eval int)
}

func (f *fakePot) Name() string       { return f.name }
func (f *fakePot) Elements() []string { return f.species }

func (f *fakePot) Evaluate(_ context.Context, s *structure.Structure) (*potential.Result, error) {
	n := int(f.evals.Add(1)) - 1
	if f.onEval != nil {
		f.onEval(n)
	}
	return &potential.Result{Energy: -float64(n), Forces: f.force(n, s)}, nil
}

func zeroForcePot() *fakePot {
	return &fakePot{name: "zero", force: func(_ int, s *structure.Structure) []float64 {
		return make([]float64, len(s.Positions))
	}}
}

// constForcePot never converges: every atom feels 1 eV/Å along +x.
func constForcePot() *fakePot {
	return &fakePot{name: "const", force: func(_ int, s *structure.Structure) []float64 {
		forces := make([]float64, len(s.Positions))
		for i := 0; i < len(forces); i += 3 {
			forces[i] = 1
		}
		return forces
	}}
}

// nanAfterPot returns clean forces until evaluation badEval, then NaN.
func nanAfterPot(badEval int) *fakePot {
	return &fakePot{name: "nan", force: func(eval int, s *structure.Structure) []float64 {
		forces := make([]float64, len(s.Positions))
		if eval >= badEval {
			forces[0] = math.NaN()
		}
		return forces
	}}
}

type frameRecorder struct {
	frames []*stream.Frame
}

func (fr *frameRecorder) sink() stream.Sink {
	return stream.SinkFunc(func(f *stream.Frame) error {
		fr.frames = append(fr.frames, f)
		return nil
	})
}

func (fr *frameRecorder) steps() []int {
	steps := make([]int, len(fr.frames))
	for i, f := range fr.frames {
		steps[i] = f.Step
	}
	return steps
}

var quiet = slog.New(slog.DiscardHandler)

func newStructure(symbols ...string) *structure.Structure {
	if len(symbols) == 0 {
		symbols = []string{"Cu", "Cu"}
	}
	positions := make([]float64, 3*len(symbols))
	for i := range symbols {
		positions[3*i] = float64(i) * 2.5
	}
	s, err := structure.New(symbols, positions)
	Expect(err).NotTo(HaveOccurred())
	return s
}

var _ = Describe("Runner", func() {
	var rec *frameRecorder

	newRunner := func(pot potential.Potential, interval int) *runner.Runner {
		rec = &frameRecorder{}
		return runner.New(pot, stream.New("test", interval, rec.sink(), quiet), quiet)
	}

	Describe("optimization", func() {
		It("converges immediately on a zero-force potential", func() {
			r := newRunner(zeroForcePot(), 1)
			final := r.Run(context.Background(), runner.DefaultOptSpec(), newStructure())

			Expect(final.Reason).To(Equal(runner.ReasonConverged))
			Expect(final.Step).To(BeNumerically("<=", 1))
			Expect(final.Err).To(BeNil())
		})

		It("executes exactly N steps against a non-convergent potential", func() {
			pot := constForcePot()
			spec := runner.DefaultOptSpec()
			spec.Algorithm = "sd"
			spec.Steps = 5

			r := newRunner(pot, 1)
			final := r.Run(context.Background(), spec, newStructure())

			Expect(final.Reason).To(Equal(runner.ReasonMaxSteps))
			Expect(final.Step).To(Equal(5))
			Expect(pot.evals.Load()).To(Equal(int64(6)), "one evaluation per visited configuration")
		})

		It("preserves atom count and species ordering in the final structure", func() {
			initial := newStructure("O", "H", "H")
			r := newRunner(constForcePot(), 1)
			spec := runner.DefaultOptSpec()
			spec.Steps = 3

			final := r.Run(context.Background(), spec, initial)

			Expect(final.Structure.NumAtoms()).To(Equal(3))
			Expect(final.Structure.Symbols).To(Equal([]string{"O", "H", "H"}))
		})
	})

	Describe("cancellation", func() {
		It("yields Cancelled with zero steps and zero evaluations when cancelled up front", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			pot := zeroForcePot()
			r := newRunner(pot, 1)
			final := r.Run(ctx, runner.DefaultOptSpec(), newStructure())

			Expect(final.Reason).To(Equal(runner.ReasonCancelled))
			Expect(final.Step).To(BeZero())
			Expect(pot.evals.Load()).To(BeZero())
		})

		It("stops within one step of a mid-run cancel", func() {
			ctx, cancel := context.WithCancel(context.Background())
			pot := constForcePot()
			pot.onEval = func(eval int) {
				if eval == 2 {
					cancel()
				}
			}

			spec := runner.DefaultOptSpec()
			spec.Algorithm = "sd"
			spec.Steps = 100

			r := newRunner(pot, 1)
			final := r.Run(ctx, spec, newStructure())

			Expect(final.Reason).To(Equal(runner.ReasonCancelled))
			Expect(final.Step).To(Equal(3))
			Expect(pot.evals.Load()).To(Equal(int64(3)), "no evaluations after the cancel is observed")
		})
	})

	Describe("frame emission", func() {
		It("emits exactly the multiples of the interval plus the terminal step", func() {
			spec := runner.DefaultOptSpec()
			spec.Algorithm = "sd"
			spec.Steps = 7
			spec.FrameInterval = 3

			r := newRunner(constForcePot(), 3)
			final := r.Run(context.Background(), spec, newStructure())

			Expect(final.Reason).To(Equal(runner.ReasonMaxSteps))
			Expect(rec.steps()).To(Equal([]int{0, 3, 6, 7}))

			last := rec.frames[len(rec.frames)-1]
			Expect(last.Final).To(BeTrue())
			Expect(last.Reason).To(Equal("max-steps"))
		})

		It("does not duplicate a terminal step that falls on the interval", func() {
			spec := runner.DefaultOptSpec()
			spec.Algorithm = "sd"
			spec.Steps = 6
			spec.FrameInterval = 3

			r := newRunner(constForcePot(), 3)
			r.Run(context.Background(), spec, newStructure())

			Expect(rec.steps()).To(Equal([]int{0, 3, 6}))
			Expect(rec.frames[2].Final).To(BeTrue())
		})
	})

	Describe("failure containment", func() {
		It("halts on NaN forces with earlier frames already emitted", func() {
			spec := runner.DefaultMDSpec()
			spec.Steps = 10
			spec.FrameInterval = 1

			r := newRunner(nanAfterPot(3), 1)
			final := r.Run(context.Background(), spec, newStructure())

			Expect(final.Reason).To(Equal(runner.ReasonFailed))
			Expect(final.Step).To(Equal(3))
			Expect(errors.Is(final.Err, engine.ErrDiverged)).To(BeTrue())
			Expect(final.TerminalReason()).To(HavePrefix("failed:"))

			Expect(rec.steps()).To(Equal([]int{0, 1, 2, 3}))
			Expect(rec.frames[3].Final).To(BeTrue())
		})

		It("rejects unsupported species before the loop starts", func() {
			pot := zeroForcePot()
			pot.species = []string{"H", "O"}

			r := newRunner(pot, 1)
			final := r.Run(context.Background(), runner.DefaultOptSpec(), newStructure("Cu"))

			Expect(final.Reason).To(Equal(runner.ReasonFailed))
			Expect(errors.Is(final.Err, potential.ErrUnsupportedSpecies)).To(BeTrue())
			Expect(pot.evals.Load()).To(BeZero())
			Expect(rec.frames).To(BeEmpty(), "configuration errors never produce frames")
		})

		It("rejects an invalid spec before the loop starts", func() {
			spec := runner.DefaultOptSpec()
			spec.Steps = 0

			r := newRunner(zeroForcePot(), 1)
			final := r.Run(context.Background(), spec, newStructure())

			Expect(final.Reason).To(Equal(runner.ReasonFailed))
			Expect(final.Step).To(BeZero())
		})
	})

	Describe("MD", func() {
		It("always runs to max steps absent failures", func() {
			spec := runner.DefaultMDSpec()
			spec.Steps = 4

			r := newRunner(zeroForcePot(), 1)
			final := r.Run(context.Background(), spec, newStructure())

			Expect(final.Reason).To(Equal(runner.ReasonMaxSteps))
			Expect(final.Step).To(Equal(4))
		})
	})
})

var _ = Describe("Spec validation", func() {
	DescribeTable("rejects bad specs",
		func(mutate func(*runner.Spec)) {
			spec := runner.DefaultMDSpec()
			mutate(&spec)
			Expect(spec.Validate()).To(HaveOccurred())
		},
		Entry("zero steps", func(s *runner.Spec) { s.Steps = 0 }),
		Entry("too many steps", func(s *runner.Spec) { s.Steps = runner.MaxSteps + 1 }),
		Entry("zero time step", func(s *runner.Spec) { s.TimeStep = 0 }),
		Entry("negative temperature", func(s *runner.Spec) { s.Temperature = -1 }),
		Entry("thermostat without friction", func(s *runner.Spec) { s.Friction = 0 }),
		Entry("unknown mode", func(s *runner.Spec) { s.Mode = "annealing" }),
	)

	It("accepts the defaults", func() {
		opt := runner.DefaultOptSpec()
		md := runner.DefaultMDSpec()
		Expect(opt.Validate()).To(Succeed())
		Expect(md.Validate()).To(Succeed())
	})

	It("rejects an unknown optimizer", func() {
		spec := runner.DefaultOptSpec()
		spec.Algorithm = "newton"
		Expect(spec.Validate()).To(HaveOccurred())
	})
})
