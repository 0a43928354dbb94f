package potential

import (
	"context"
	"errors"
	"math"

	"github.com/atomflow/atomflow/internal/structure"
	"gonum.org/v1/gonum/mat"
)

// LennardJones is the classical 12-6 pair potential with a shifted energy
// cutoff. It is species-agnostic and mainly useful for quick runs without a
// model server. Periodic axes use the minimum-image convention.
type LennardJones struct {
	Sigma   float64
	Epsilon float64
	Cutoff  float64 // Å; energy is shifted so E(Cutoff) = 0
}

// NewLennardJones returns an LJ potential with σ = 1 Å, ε = 1 eV and a 3σ
// cutoff.
func NewLennardJones() *LennardJones {
	return &LennardJones{Sigma: 1.0, Epsilon: 1.0, Cutoff: 3.0}
}

func (lj *LennardJones) Name() string { return "lj" }

func (lj *LennardJones) Elements() []string { return nil }

func (lj *LennardJones) Evaluate(_ context.Context, s *structure.Structure) (*Result, error) {
	n := s.NumAtoms()
	if n == 0 {
		return nil, &EvalError{Model: lj.Name(), Cause: errors.New("empty structure")}
	}

	mic, err := lj.imageFn(s)
	if err != nil {
		return nil, &EvalError{Model: lj.Name(), Cause: err}
	}

	rc2 := lj.Cutoff * lj.Cutoff
	eShift := lj.pairEnergy(lj.Cutoff * lj.Cutoff)

	energy := 0.0
	forces := make([]float64, 3*n)
	var d [3]float64
	for i := 0; i < n; i++ {
		pi := s.Positions[3*i : 3*i+3]
		for j := i + 1; j < n; j++ {
			pj := s.Positions[3*j : 3*j+3]
			d[0], d[1], d[2] = pj[0]-pi[0], pj[1]-pi[1], pj[2]-pi[2]
			mic(&d)
			r2 := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
			if r2 > rc2 {
				continue
			}
			if r2 == 0 {
				return nil, &EvalError{Model: lj.Name(), Cause: errors.New("coincident atoms")}
			}
			energy += lj.pairEnergy(r2) - eShift
			// F_i = (dE/dr)·d/r with d pointing i→j.
			g := lj.pairForceOverR(r2)
			for k := 0; k < 3; k++ {
				forces[3*i+k] += g * d[k]
				forces[3*j+k] -= g * d[k]
			}
		}
	}
	return checkResult(lj.Name(), s, &Result{Energy: energy, Forces: forces})
}

// pairEnergy is 4ε[(σ²/r²)⁶ - (σ²/r²)³], unshifted.
func (lj *LennardJones) pairEnergy(r2 float64) float64 {
	s2 := lj.Sigma * lj.Sigma / r2
	s6 := s2 * s2 * s2
	return 4 * lj.Epsilon * (s6*s6 - s6)
}

// pairForceOverR is (dE/dr)/r, so that the force on atom i from the
// separation vector d (pointing i→j) is -pairForceOverR·d.
func (lj *LennardJones) pairForceOverR(r2 float64) float64 {
	s2 := lj.Sigma * lj.Sigma / r2
	s6 := s2 * s2 * s2
	return 24 * lj.Epsilon * (s6 - 2*s6*s6) / r2
}

// imageFn returns the minimum-image mapping for s, the identity when no
// axis is periodic.
func (lj *LennardJones) imageFn(s *structure.Structure) (func(*[3]float64), error) {
	if s.Cell == nil || (!s.PBC[0] && !s.PBC[1] && !s.PBC[2]) {
		return func(*[3]float64) {}, nil
	}

	cell := mat.NewDense(3, 3, append([]float64(nil), s.Cell...))
	var inv mat.Dense
	if err := inv.Inverse(cell); err != nil {
		return nil, errors.New("singular cell matrix")
	}

	pbc := s.PBC
	return func(d *[3]float64) {
		// Fractional coordinates of the separation: f = d · C⁻¹
		// (rows of Cell are lattice vectors, d is a row vector).
		var f [3]float64
		for k := 0; k < 3; k++ {
			f[k] = d[0]*inv.At(0, k) + d[1]*inv.At(1, k) + d[2]*inv.At(2, k)
		}
		for k := 0; k < 3; k++ {
			if !pbc[k] {
				continue
			}
			shift := math.Round(f[k])
			if shift == 0 {
				continue
			}
			for m := 0; m < 3; m++ {
				d[m] -= shift * cell.At(k, m)
			}
		}
	}, nil
}
