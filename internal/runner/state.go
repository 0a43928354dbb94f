package runner

import (
	"fmt"

	"github.com/atomflow/atomflow/internal/structure"
)

// Reason is a run's terminal (or current) disposition. The host always
// receives a definite terminal reason; a returned state is never left
// "running".
type Reason string

const (
	ReasonRunning   Reason = "running"
	ReasonConverged Reason = "converged"
	ReasonMaxSteps  Reason = "max-steps"
	ReasonCancelled Reason = "cancelled"
	ReasonFailed    Reason = "failed"
)

// Terminal reports whether r ends a run.
func (r Reason) Terminal() bool { return r != ReasonRunning && r != "" }

// State is the mutable record of one run, owned exclusively by its Runner
// while the loop executes. The final value is the run's result.
type State struct {
	ID          string
	Step        int
	Structure   *structure.Structure
	Energy      float64
	Fmax        float64
	Temperature float64
	Reason      Reason
	Err         error
}

// TerminalReason formats the definite reason string handed to the host,
// "failed:<cause>" when the run failed.
func (s *State) TerminalReason() string {
	if s.Reason == ReasonFailed && s.Err != nil {
		return fmt.Sprintf("failed:%v", s.Err)
	}
	return string(s.Reason)
}
