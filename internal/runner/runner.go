// Package runner owns the simulation step loop: evaluate the potential,
// advance the engine, stream frames, and decide termination. Cancellation
// is cooperative, observed once per step boundary.
package runner

import (
	"context"
	"log/slog"

	"github.com/atomflow/atomflow/internal/engine"
	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/stream"
	"github.com/atomflow/atomflow/internal/structure"
)

// Runner drives one run at a time. OnUpdate, when set, receives a copy of
// the state after every evaluation; it must not block.
type Runner struct {
	Potential potential.Potential
	Streamer  *stream.Streamer
	Log       *slog.Logger
	OnUpdate  func(State)
}

// New builds a runner. streamer may be nil when no frames are wanted.
func New(pot potential.Potential, streamer *stream.Streamer, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Potential: pot, Streamer: streamer, Log: log}
}

// Validate performs every pre-loop check: spec sanity and species support.
// Configuration-class failures happen here, before any evaluation.
func Validate(pot potential.Potential, spec Spec, initial *structure.Structure) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := initial.Validate(); err != nil {
		return err
	}
	return potential.CheckSpecies(pot, initial)
}

// Run executes the loop to a terminal state and returns the final State.
// The returned state always carries a definite terminal reason; in-loop
// errors are recorded in it rather than returned, so frames already
// streamed stay valid.
func (r *Runner) Run(ctx context.Context, spec Spec, initial *structure.Structure) *State {
	state := &State{Structure: initial, Reason: ReasonRunning}

	if err := Validate(r.Potential, spec, initial); err != nil {
		return r.fail(state, err)
	}
	stepper, err := spec.stepper()
	if err != nil {
		return r.fail(state, err)
	}

	log := r.Log.With("mode", spec.Mode, "model", r.Potential.Name())
	log.Info("run starting", "atoms", initial.NumAtoms(), "steps", spec.Steps)

	cur := initial
	var res *potential.Result
	needEval := true
	for {
		if ctx.Err() != nil {
			state.Reason = ReasonCancelled
			log.Info("run cancelled", "step", state.Step)
			break
		}

		if needEval {
			res, err = r.Potential.Evaluate(ctx, cur)
			if err != nil {
				r.fail(state, err)
				break
			}
			if !res.Valid() {
				r.fail(state, engine.ErrDiverged)
				break
			}
		}

		r.record(state, cur, res)
		if stepper.Converged(res) {
			state.Reason = ReasonConverged
			log.Info("run converged", "step", state.Step, "fmax", state.Fmax)
			break
		}
		if state.Step >= spec.Steps {
			state.Reason = ReasonMaxSteps
			log.Info("run reached max steps", "step", state.Step)
			break
		}
		r.maybeEmit(spec, state, cur)

		next, again, err := stepper.Step(cur, res)
		if err != nil {
			r.fail(state, err)
			break
		}
		cur = next
		needEval = again
		state.Step++
		state.Structure = cur
	}

	state.Structure = cur
	r.emitFinal(spec, state, cur)
	return state
}

func (r *Runner) record(state *State, cur *structure.Structure, res *potential.Result) {
	state.Structure = cur
	state.Energy = res.Energy
	state.Fmax = res.MaxForce()
	state.Temperature = cur.Temperature()
	if r.OnUpdate != nil {
		r.OnUpdate(*state)
	}
}

func (r *Runner) fail(state *State, err error) *State {
	state.Reason = ReasonFailed
	state.Err = err
	r.Log.Error("run failed", "step", state.Step, "error", err)
	return state
}

func (r *Runner) maybeEmit(spec Spec, state *State, cur *structure.Structure) {
	if r.Streamer == nil || spec.FrameInterval == 0 {
		return
	}
	r.Streamer.MaybeEmit(state.Step, state.Energy, cur)
}

func (r *Runner) emitFinal(spec Spec, state *State, cur *structure.Structure) {
	if r.OnUpdate != nil {
		r.OnUpdate(*state)
	}
	if r.Streamer == nil {
		return
	}
	r.Streamer.EmitFinal(state.Step, state.Energy, cur, state.TerminalReason())
}
