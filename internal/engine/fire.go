package engine

import (
	"math"

	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/structure"
	"gonum.org/v1/gonum/floats"
)

// FIRE is the fast inertial relaxation engine: damped dynamics with
// adaptive time step and velocity mixing toward the force direction.
// Masses are ignored, as is conventional for FIRE.
type FIRE struct {
	Fmax    float64
	MaxStep float64 // Å cap on the global displacement norm

	dt       float64
	dtMax    float64
	nMin     int
	fInc     float64
	fDec     float64
	alpha    float64
	alpha0   float64
	fAlpha   float64
	vel      []float64
	uphill   int // steps since power went non-positive, counts downhill streak
}

// NewFIRE returns a FIRE optimizer with the given force tolerance and the
// canonical parameter set (Nmin 5, finc 1.1, fdec 0.5, α 0.1, fα 0.99).
func NewFIRE(fmax float64) *FIRE {
	dt := 0.1
	return &FIRE{
		Fmax:    fmax,
		MaxStep: 0.2,
		dt:      dt,
		dtMax:   10 * dt,
		nMin:    5,
		fInc:    1.1,
		fDec:    0.5,
		alpha:   0.1,
		alpha0:  0.1,
		fAlpha:  0.99,
	}
}

func (f *FIRE) Converged(res *potential.Result) bool {
	return res.MaxForce() <= f.Fmax
}

func (f *FIRE) Step(s *structure.Structure, res *potential.Result) (*structure.Structure, bool, error) {
	if err := checkFinite(res); err != nil {
		return nil, false, err
	}
	n := len(res.Forces)
	if f.vel == nil {
		f.vel = make([]float64, n)
	}

	power := floats.Dot(res.Forces, f.vel)
	if power > 0 {
		f.uphill++
		if f.uphill > f.nMin {
			f.dt = math.Min(f.dt*f.fInc, f.dtMax)
			f.alpha *= f.fAlpha
		}
		// Mix velocity toward the force direction.
		vNorm := floats.Norm(f.vel, 2)
		fNorm := floats.Norm(res.Forces, 2)
		if fNorm > 0 {
			floats.Scale(1-f.alpha, f.vel)
			floats.AddScaled(f.vel, f.alpha*vNorm/fNorm, res.Forces)
		}
	} else {
		f.uphill = 0
		f.dt *= f.fDec
		f.alpha = f.alpha0
		for i := range f.vel {
			f.vel[i] = 0
		}
	}

	floats.AddScaled(f.vel, f.dt, res.Forces)

	delta := make([]float64, n)
	floats.AddScaled(delta, f.dt, f.vel)
	if norm := floats.Norm(delta, 2); norm > f.MaxStep {
		floats.Scale(f.MaxStep/norm, delta)
	}

	next, err := s.ApplyDisplacement(delta)
	if err != nil {
		return nil, false, err
	}
	if err := next.Validate(); err != nil {
		return nil, false, ErrDiverged
	}
	return next, true, nil
}
