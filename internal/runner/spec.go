package runner

import (
	"errors"
	"fmt"

	"github.com/atomflow/atomflow/internal/engine"
)

// Mode selects the simulation variant.
type Mode string

const (
	ModeOptimize Mode = "optimization"
	ModeMD       Mode = "md"
)

// MaxSteps caps any run, matching the host extension's limit.
const MaxSteps = 1000

// Spec configures one run. Immutable once the run starts.
type Spec struct {
	Mode      Mode   `json:"mode" yaml:"mode"`
	Algorithm string `json:"algorithm,omitempty" yaml:"algorithm"` // lbfgs|fire|sd, optimization only
	Steps     int    `json:"steps" yaml:"steps"`

	// Optimization.
	Fmax float64 `json:"fmax,omitempty" yaml:"fmax"` // eV/Å

	// MD.
	TimeStep    float64 `json:"time_step,omitempty" yaml:"time_step"`       // fs
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature"`   // K, 0 = NVE
	Friction    float64 `json:"friction,omitempty" yaml:"friction"`         // Langevin coupling, 1/internal-time
	Seed        int64   `json:"seed,omitempty" yaml:"seed"`

	FrameInterval int `json:"frame_interval,omitempty" yaml:"frame_interval"`
}

// DefaultOptSpec mirrors the host extension's geometry-optimization
// defaults.
func DefaultOptSpec() Spec {
	return Spec{
		Mode:          ModeOptimize,
		Algorithm:     "lbfgs",
		Steps:         100,
		Fmax:          0.05,
		FrameInterval: 1,
	}
}

// DefaultMDSpec mirrors the host extension's Langevin NVT defaults.
func DefaultMDSpec() Spec {
	return Spec{
		Mode:          ModeMD,
		Steps:         100,
		TimeStep:      0.5,
		Temperature:   300,
		Friction:      0.002,
		FrameInterval: 1,
	}
}

// Validate checks the spec before any potential evaluation happens.
func (s *Spec) Validate() error {
	if s.Steps <= 0 {
		return errors.New("runner: steps must be positive")
	}
	if s.Steps > MaxSteps {
		return fmt.Errorf("runner: steps must be at most %d", MaxSteps)
	}
	if s.FrameInterval < 0 {
		return errors.New("runner: frame interval must be non-negative")
	}
	switch s.Mode {
	case ModeOptimize:
		if s.Fmax <= 0 {
			return errors.New("runner: fmax must be positive")
		}
		switch s.Algorithm {
		case "", "lbfgs", "fire", "sd":
		default:
			return fmt.Errorf("runner: unknown optimizer %q", s.Algorithm)
		}
	case ModeMD:
		if s.TimeStep <= 0 {
			return errors.New("runner: time step must be positive")
		}
		if s.Temperature < 0 {
			return errors.New("runner: temperature must be non-negative")
		}
		if s.Temperature > 0 && s.Friction <= 0 {
			return errors.New("runner: thermostat requires positive friction")
		}
	default:
		return fmt.Errorf("runner: unknown mode %q", s.Mode)
	}
	return nil
}

// stepper builds the engine variant the spec asks for.
func (s *Spec) stepper() (engine.Stepper, error) {
	switch s.Mode {
	case ModeOptimize:
		switch s.Algorithm {
		case "", "lbfgs":
			return engine.NewLBFGS(s.Fmax), nil
		case "fire":
			return engine.NewFIRE(s.Fmax), nil
		case "sd":
			return engine.NewDescent(s.Fmax), nil
		default:
			return nil, fmt.Errorf("runner: unknown optimizer %q", s.Algorithm)
		}
	case ModeMD:
		return engine.NewVelocityVerlet(s.TimeStep, s.Temperature, s.Friction, s.Seed)
	default:
		return nil, fmt.Errorf("runner: unknown mode %q", s.Mode)
	}
}
