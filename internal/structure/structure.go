// Package structure holds the in-memory model of an atomic configuration:
// element symbols, cartesian positions, optional velocities and periodic
// cell. Units follow the ASE conventions: positions in Å, energies in eV,
// masses in amu, time in Å·√(amu/eV).
package structure

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// KB is the Boltzmann constant in eV/K.
	KB = 8.617333262e-5

	// Fs is one femtosecond in internal time units.
	Fs = 0.09822694750253231

	// MaxAtoms is the largest configuration the driver accepts.
	MaxAtoms = 1000
)

// ErrShapeMismatch indicates a per-atom array whose length disagrees with
// the structure's atom count.
var ErrShapeMismatch = errors.New("structure: shape mismatch with atom count")

// Structure is an ordered set of atoms. Atom count and species ordering are
// fixed for its lifetime; all mutating operations return a fresh snapshot.
type Structure struct {
	Symbols    []string
	Positions  []float64 // flat, 3 per atom, Å
	Velocities []float64 // nil or flat, 3 per atom, internal units
	Cell       []float64 // nil or row-major 3x3, rows are lattice vectors, Å
	PBC        [3]bool

	masses []float64 // amu, resolved from Symbols at construction
}

// New builds a Structure from element symbols and flat cartesian positions.
// Symbols must be known elements and len(positions) must be 3·len(symbols).
func New(symbols []string, positions []float64) (*Structure, error) {
	if len(symbols) == 0 {
		return nil, errors.New("structure: no atoms")
	}
	if len(symbols) > MaxAtoms {
		return nil, fmt.Errorf("structure: %d atoms exceeds limit of %d", len(symbols), MaxAtoms)
	}
	if len(positions) != 3*len(symbols) {
		return nil, fmt.Errorf("%w: %d positions for %d atoms", ErrShapeMismatch, len(positions), len(symbols))
	}

	masses := make([]float64, len(symbols))
	for i, sym := range symbols {
		el, ok := elements[sym]
		if !ok {
			return nil, fmt.Errorf("structure: unknown element %q", sym)
		}
		masses[i] = el.Mass
	}

	s := &Structure{
		Symbols:   append([]string(nil), symbols...),
		Positions: append([]float64(nil), positions...),
		masses:    masses,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NumAtoms returns the number of atoms.
func (s *Structure) NumAtoms() int { return len(s.Symbols) }

// Masses returns per-atom masses in amu. The slice is shared; callers must
// not modify it.
func (s *Structure) Masses() []float64 { return s.masses }

// Clone returns a deep copy.
func (s *Structure) Clone() *Structure {
	c := &Structure{
		Symbols:   append([]string(nil), s.Symbols...),
		Positions: append([]float64(nil), s.Positions...),
		PBC:       s.PBC,
		masses:    s.masses,
	}
	if s.Velocities != nil {
		c.Velocities = append([]float64(nil), s.Velocities...)
	}
	if s.Cell != nil {
		c.Cell = append([]float64(nil), s.Cell...)
	}
	return c
}

// ApplyDisplacement returns a snapshot with delta added to the positions.
// delta must hold 3 components per atom.
func (s *Structure) ApplyDisplacement(delta []float64) (*Structure, error) {
	if len(delta) != len(s.Positions) {
		return nil, fmt.Errorf("%w: displacement has %d components, want %d", ErrShapeMismatch, len(delta), len(s.Positions))
	}
	c := s.Clone()
	floats.Add(c.Positions, delta)
	return c, nil
}

// WithVelocities returns a snapshot carrying the given velocities.
func (s *Structure) WithVelocities(v []float64) (*Structure, error) {
	if len(v) != len(s.Positions) {
		return nil, fmt.Errorf("%w: %d velocity components for %d atoms", ErrShapeMismatch, len(v), s.NumAtoms())
	}
	c := s.Clone()
	c.Velocities = append([]float64(nil), v...)
	return c, nil
}

// Validate reports the first non-finite position or velocity component.
func (s *Structure) Validate() error {
	for i, p := range s.Positions {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("structure: non-finite position component %d for atom %d", i%3, i/3)
		}
	}
	for i, v := range s.Velocities {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("structure: non-finite velocity component %d for atom %d", i%3, i/3)
		}
	}
	return nil
}

// KineticEnergy returns ½·Σ m·v² in eV, zero when velocities are unset.
func (s *Structure) KineticEnergy() float64 {
	if s.Velocities == nil {
		return 0
	}
	ke := 0.0
	for i, m := range s.masses {
		v := s.Velocities[3*i : 3*i+3]
		ke += 0.5 * m * floats.Dot(v, v)
	}
	return ke
}

// Temperature returns the instantaneous kinetic temperature in K,
// using 3N degrees of freedom.
func (s *Structure) Temperature() float64 {
	n := s.NumAtoms()
	if n == 0 {
		return 0
	}
	return 2 * s.KineticEnergy() / (3 * float64(n) * KB)
}
