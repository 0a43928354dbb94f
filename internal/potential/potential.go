// Package potential defines the uniform interface over interatomic
// potentials (classical or machine-learned) and the built-in evaluators.
package potential

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/atomflow/atomflow/internal/structure"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrUnsupportedSpecies indicates an element outside the potential's
	// supported set. Surfaced before a run starts.
	ErrUnsupportedSpecies = errors.New("potential: unsupported species")

	// ErrUnavailable indicates the named potential could not be resolved
	// or loaded. Surfaced before a run starts.
	ErrUnavailable = errors.New("potential: unavailable")
)

// EvalError is a failure inside a potential evaluation. It is run-fatal:
// the controller never retries the same step.
type EvalError struct {
	Model string
	Cause error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("potential %s: evaluation failed: %v", e.Model, e.Cause)
}

func (e *EvalError) Unwrap() error { return e.Cause }

// Result is one potential evaluation. Forces are flat, 3 per atom, in the
// input structure's atom order, eV/Å. Stress, when present, is the
// 6-component Voigt tensor in eV/Å³.
type Result struct {
	Energy float64
	Forces []float64
	Stress []float64
}

// MaxForce returns the largest per-atom force magnitude.
func (r *Result) MaxForce() float64 {
	maxSq := 0.0
	for i := 0; i+2 < len(r.Forces); i += 3 {
		f := r.Forces[i : i+3]
		if sq := floats.Dot(f, f); sq > maxSq {
			maxSq = sq
		}
	}
	return math.Sqrt(maxSq)
}

// Valid reports whether energy and all force components are finite.
func (r *Result) Valid() bool {
	if math.IsNaN(r.Energy) || math.IsInf(r.Energy, 0) {
		return false
	}
	for _, f := range r.Forces {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Potential maps a structure to energy and forces. Implementations may be
// expensive (model inference); Evaluate must honor ctx cancellation where
// practical. Underlying weights may be shared across runs and must be
// treated as read-only.
type Potential interface {
	Name() string

	// Elements lists supported species symbols; nil or empty means the
	// potential accepts every known element.
	Elements() []string

	Evaluate(ctx context.Context, s *structure.Structure) (*Result, error)
}

// CheckSpecies verifies every species in s against p's supported set.
func CheckSpecies(p Potential, s *structure.Structure) error {
	supported := p.Elements()
	if len(supported) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(supported))
	for _, sym := range supported {
		set[sym] = struct{}{}
	}
	for _, sym := range s.Symbols {
		if _, ok := set[sym]; !ok {
			return fmt.Errorf("%w: %s not in %s element set", ErrUnsupportedSpecies, sym, p.Name())
		}
	}
	return nil
}

// checkResult enforces the forces-match-structure guarantee on evaluator
// output before it reaches the controller.
func checkResult(name string, s *structure.Structure, r *Result) (*Result, error) {
	if len(r.Forces) != 3*s.NumAtoms() {
		return nil, &EvalError{Model: name, Cause: fmt.Errorf("got %d force components for %d atoms", len(r.Forces), s.NumAtoms())}
	}
	return r, nil
}
