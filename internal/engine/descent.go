package engine

import (
	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/structure"
	"gonum.org/v1/gonum/floats"
)

// Descent is plain steepest descent: displacement γ·F with a per-atom cap.
// Mostly a baseline; LBFGS or FIRE converge far faster.
type Descent struct {
	Fmax    float64 // eV/Å convergence threshold
	Gamma   float64 // Å²/eV step scale
	MaxStep float64 // Å per-atom displacement cap
}

// NewDescent returns a steepest-descent optimizer with the given force
// tolerance.
func NewDescent(fmax float64) *Descent {
	return &Descent{Fmax: fmax, Gamma: 0.1, MaxStep: 0.2}
}

func (d *Descent) Converged(res *potential.Result) bool {
	return res.MaxForce() <= d.Fmax
}

func (d *Descent) Step(s *structure.Structure, res *potential.Result) (*structure.Structure, bool, error) {
	if err := checkFinite(res); err != nil {
		return nil, false, err
	}
	delta := make([]float64, len(res.Forces))
	floats.AddScaled(delta, d.Gamma, res.Forces)
	capPerAtom(delta, d.MaxStep)

	next, err := s.ApplyDisplacement(delta)
	if err != nil {
		return nil, false, err
	}
	if err := next.Validate(); err != nil {
		return nil, false, ErrDiverged
	}
	return next, true, nil
}
