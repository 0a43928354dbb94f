package engine

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/structure"
)

// VelocityVerlet integrates Newtonian dynamics. With Temperature > 0 a
// Langevin thermostat (friction + gaussian noise, BAOAB-style splitting)
// couples the velocities to the target temperature; with Temperature = 0
// the trajectory is plain NVE.
//
// The usual kick-drift-kick cycle is reorganized so each Step call sees
// freshly evaluated forces: the trailing half-kick of the previous step is
// completed first, then the thermostat acts, then the leading half-kick and
// drift of the new step run.
type VelocityVerlet struct {
	Dt          float64 // internal time units
	Temperature float64 // K; 0 disables the thermostat
	Friction    float64 // 1/internal-time Langevin coupling

	rng     *rand.Rand
	vel     []float64
	pending bool // a half-kick from the previous step awaits fresh forces
}

// NewVelocityVerlet builds an MD integrator. timeStepFs is in femtoseconds;
// friction uses ASE's inverse internal time units (0.002 is a typical
// value). seed feeds the thermostat noise.
func NewVelocityVerlet(timeStepFs, temperature, friction float64, seed int64) (*VelocityVerlet, error) {
	if timeStepFs <= 0 {
		return nil, errors.New("engine: time step must be positive")
	}
	if temperature < 0 {
		return nil, errors.New("engine: temperature must be non-negative")
	}
	if temperature > 0 && friction <= 0 {
		return nil, errors.New("engine: thermostat requires positive friction")
	}
	return &VelocityVerlet{
		Dt:          timeStepFs * structure.Fs,
		Temperature: temperature,
		Friction:    friction,
		rng:         rand.New(rand.NewSource(seed)),
	}, nil
}

func (v *VelocityVerlet) Converged(*potential.Result) bool { return false }

func (v *VelocityVerlet) Step(s *structure.Structure, res *potential.Result) (*structure.Structure, bool, error) {
	if err := checkFinite(res); err != nil {
		return nil, false, err
	}
	masses := s.Masses()
	for i, m := range masses {
		if m <= 0 {
			return nil, false, fmt.Errorf("engine: non-positive mass for atom %d", i)
		}
	}

	n := len(s.Positions)
	if v.vel == nil {
		v.vel = make([]float64, n)
		if s.Velocities != nil {
			copy(v.vel, s.Velocities)
		}
	}

	halfDt := 0.5 * v.Dt
	if v.pending {
		for i := range v.vel {
			v.vel[i] += halfDt * res.Forces[i] / masses[i/3]
		}
	}

	if v.Temperature > 0 {
		c := math.Exp(-v.Friction * v.Dt)
		scale := math.Sqrt(structure.KB * v.Temperature * (1 - c*c))
		for i := range v.vel {
			sigma := scale / math.Sqrt(masses[i/3])
			v.vel[i] = c*v.vel[i] + sigma*v.rng.NormFloat64()
		}
	}

	delta := make([]float64, n)
	for i := range v.vel {
		v.vel[i] += halfDt * res.Forces[i] / masses[i/3]
		delta[i] = v.Dt * v.vel[i]
	}
	v.pending = true

	moved, err := s.ApplyDisplacement(delta)
	if err != nil {
		return nil, false, err
	}
	next, err := moved.WithVelocities(v.vel)
	if err != nil {
		return nil, false, err
	}
	if err := next.Validate(); err != nil {
		return nil, false, ErrDiverged
	}
	return next, true, nil
}
