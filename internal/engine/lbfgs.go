package engine

import (
	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/structure"
	"gonum.org/v1/gonum/floats"
)

// LBFGS is a limited-memory BFGS optimizer on the force field's gradient
// (g = -F), using the standard two-loop recursion and a per-atom step cap.
type LBFGS struct {
	Fmax    float64 // eV/Å convergence threshold
	Memory  int     // history pairs kept
	H0      float64 // initial inverse-Hessian diagonal, Å²/eV
	MaxStep float64 // Å per-atom displacement cap

	sHist    [][]float64 // position differences
	yHist    [][]float64 // gradient differences
	rhoHist  []float64
	prevPos  []float64
	prevGrad []float64
}

// NewLBFGS returns an LBFGS optimizer with the given force tolerance and
// the usual defaults (memory 100, H0 = 1/70 Å²/eV, 0.2 Å step cap).
func NewLBFGS(fmax float64) *LBFGS {
	return &LBFGS{Fmax: fmax, Memory: 100, H0: 1.0 / 70.0, MaxStep: 0.2}
}

func (l *LBFGS) Converged(res *potential.Result) bool {
	return res.MaxForce() <= l.Fmax
}

func (l *LBFGS) Step(s *structure.Structure, res *potential.Result) (*structure.Structure, bool, error) {
	if err := checkFinite(res); err != nil {
		return nil, false, err
	}

	n := len(res.Forces)
	grad := make([]float64, n)
	floats.AddScaled(grad, -1, res.Forces)

	l.update(s.Positions, grad)

	// Two-loop recursion: d = -H·g.
	q := append([]float64(nil), grad...)
	k := len(l.sHist)
	alpha := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		alpha[i] = l.rhoHist[i] * floats.Dot(l.sHist[i], q)
		floats.AddScaled(q, -alpha[i], l.yHist[i])
	}
	floats.Scale(l.H0, q)
	for i := 0; i < k; i++ {
		beta := l.rhoHist[i] * floats.Dot(l.yHist[i], q)
		floats.AddScaled(q, alpha[i]-beta, l.sHist[i])
	}

	delta := q
	floats.Scale(-1, delta)
	capPerAtom(delta, l.MaxStep)

	next, err := s.ApplyDisplacement(delta)
	if err != nil {
		return nil, false, err
	}
	if err := next.Validate(); err != nil {
		return nil, false, ErrDiverged
	}

	l.prevPos = append(l.prevPos[:0], s.Positions...)
	l.prevGrad = append(l.prevGrad[:0], grad...)
	return next, true, nil
}

// update appends the (s, y) pair from the previous step, skipping pairs
// with non-positive curvature, and trims history to Memory entries.
func (l *LBFGS) update(pos, grad []float64) {
	if l.prevPos == nil {
		return
	}
	sVec := make([]float64, len(pos))
	yVec := make([]float64, len(grad))
	floats.SubTo(sVec, pos, l.prevPos)
	floats.SubTo(yVec, grad, l.prevGrad)

	sy := floats.Dot(sVec, yVec)
	if sy <= 1e-12 {
		return
	}
	l.sHist = append(l.sHist, sVec)
	l.yHist = append(l.yHist, yVec)
	l.rhoHist = append(l.rhoHist, 1/sy)
	if len(l.sHist) > l.Memory {
		l.sHist = l.sHist[1:]
		l.yHist = l.yHist[1:]
		l.rhoHist = l.rhoHist[1:]
	}
}
