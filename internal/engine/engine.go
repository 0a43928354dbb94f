// Package engine advances a structure one step at a time: geometry
// optimizers (LBFGS, FIRE, steepest descent) and a velocity-Verlet MD
// integrator with an optional Langevin thermostat.
package engine

import (
	"errors"
	"math"

	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/structure"
)

// ErrDiverged indicates a non-finite energy, force or position. Run-fatal.
var ErrDiverged = errors.New("engine: numerical divergence (non-finite value)")

// Stepper advances a structure given the latest potential evaluation.
// Step returns the new structure and whether the potential must be
// re-evaluated before the next call.
type Stepper interface {
	Step(s *structure.Structure, res *potential.Result) (*structure.Structure, bool, error)

	// Converged reports whether res satisfies the termination criterion.
	// Always false for MD integrators.
	Converged(res *potential.Result) bool
}

// checkFinite rejects evaluator output carrying NaN/Inf before any step
// math runs on it.
func checkFinite(res *potential.Result) error {
	if !res.Valid() {
		return ErrDiverged
	}
	return nil
}

// capPerAtom scales delta so no single atom moves farther than maxStep.
func capPerAtom(delta []float64, maxStep float64) {
	longest := 0.0
	for i := 0; i+2 < len(delta); i += 3 {
		d := delta[i]*delta[i] + delta[i+1]*delta[i+1] + delta[i+2]*delta[i+2]
		if d > longest {
			longest = d
		}
	}
	longest = math.Sqrt(longest)
	if longest > maxStep {
		scale := maxStep / longest
		for i := range delta {
			delta[i] *= scale
		}
	}
}
