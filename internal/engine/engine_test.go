package engine

import (
	"context"
	"math"
	"testing"

	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/structure"
)

// harmonic tethers every atom to the origin: E = ½k·Σ|x|², F = -k·x.
type harmonic struct {
	k float64
}

func (harmonic) Name() string       { return "harmonic" }
func (harmonic) Elements() []string { return nil }

func (h harmonic) Evaluate(_ context.Context, s *structure.Structure) (*potential.Result, error) {
	energy := 0.0
	forces := make([]float64, len(s.Positions))
	for i, x := range s.Positions {
		energy += 0.5 * h.k * x * x
		forces[i] = -h.k * x
	}
	return &potential.Result{Energy: energy, Forces: forces}, nil
}

func singleAtom(t *testing.T, sym string, pos []float64) *structure.Structure {
	t.Helper()
	s, err := structure.New([]string{sym}, pos)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// drive runs the evaluate/step cycle until the stepper converges, and
// returns the step count.
func drive(t *testing.T, st Stepper, pot potential.Potential, s *structure.Structure, maxSteps int) (int, *structure.Structure) {
	t.Helper()
	ctx := context.Background()
	for step := 0; step < maxSteps; step++ {
		res, err := pot.Evaluate(ctx, s)
		if err != nil {
			t.Fatalf("evaluate at step %d: %v", step, err)
		}
		if st.Converged(res) {
			return step, s
		}
		next, _, err := st.Step(s, res)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		s = next
	}
	t.Fatalf("not converged within %d steps", maxSteps)
	return 0, nil
}

func TestOptimizersConvergeOnHarmonicWell(t *testing.T) {
	tests := []struct {
		name string
		make func() Stepper
	}{
		{"descent", func() Stepper { return NewDescent(0.01) }},
		{"lbfgs", func() Stepper { return NewLBFGS(0.01) }},
		{"fire", func() Stepper { return NewFIRE(0.01) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := singleAtom(t, "H", []float64{1.0, -0.5, 0.3})
			_, final := drive(t, tt.make(), harmonic{k: 1}, s, 500)

			for i, x := range final.Positions {
				if math.Abs(x) > 0.05 {
					t.Errorf("component %d = %v, expected near origin", i, x)
				}
			}
			if final.NumAtoms() != 1 || final.Symbols[0] != "H" {
				t.Error("optimizer changed atom count or species")
			}
		})
	}
}

func TestLBFGSFasterThanDescent(t *testing.T) {
	start := []float64{1.0, 0.7, -0.4}

	sd, _ := drive(t, NewDescent(0.01), harmonic{k: 1}, singleAtom(t, "H", start), 1000)
	lb, _ := drive(t, NewLBFGS(0.01), harmonic{k: 1}, singleAtom(t, "H", start), 1000)
	if lb > sd {
		t.Errorf("lbfgs took %d steps, descent %d", lb, sd)
	}
}

func TestOptimizerStepCap(t *testing.T) {
	// Enormous forces: still no atom may move more than MaxStep.
	st := NewDescent(0.01)
	s := singleAtom(t, "H", []float64{100, 0, 0})
	res, err := harmonic{k: 100}.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	next, _, err := st.Step(s, res)
	if err != nil {
		t.Fatal(err)
	}
	moved := math.Abs(next.Positions[0] - s.Positions[0])
	if moved > st.MaxStep+1e-12 {
		t.Errorf("atom moved %v Å, cap is %v", moved, st.MaxStep)
	}
}

func TestStepRejectsNonFiniteForces(t *testing.T) {
	steppers := []Stepper{NewDescent(0.01), NewLBFGS(0.01), NewFIRE(0.01)}
	s := singleAtom(t, "H", []float64{1, 0, 0})
	bad := &potential.Result{Energy: math.NaN(), Forces: []float64{0, 0, 0}}

	for _, st := range steppers {
		if _, _, err := st.Step(s, bad); err != ErrDiverged {
			t.Errorf("%T: err = %v, want ErrDiverged", st, err)
		}
	}
}
