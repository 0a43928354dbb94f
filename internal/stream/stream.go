// Package stream publishes intermediate structures to the visualization
// host at a bounded rate. Emission never blocks or aborts the simulation
// loop: sink failures are logged and swallowed.
package stream

import (
	"log/slog"

	"github.com/atomflow/atomflow/internal/structure"
)

// Frame is one emitted structure snapshot. Encoded as msgpack on the wire.
type Frame struct {
	RunID     string    `msgpack:"run_id" json:"run_id"`
	Step      int       `msgpack:"step" json:"step"`
	Energy    float64   `msgpack:"energy" json:"energy"`
	Symbols   []string  `msgpack:"symbols" json:"symbols"`
	Positions []float64 `msgpack:"positions" json:"positions"`
	Cell      []float64 `msgpack:"cell,omitempty" json:"cell,omitempty"`
	PBC       [3]bool   `msgpack:"pbc" json:"pbc"`
	Final     bool      `msgpack:"final" json:"final"`
	Reason    string    `msgpack:"reason,omitempty" json:"reason,omitempty"`
}

// Sink receives emitted frames, in non-decreasing step order.
type Sink interface {
	Push(f *Frame) error
	Close() error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(f *Frame) error

func (fn SinkFunc) Push(f *Frame) error { return fn(f) }
func (SinkFunc) Close() error           { return nil }

// MultiSink fans a frame out to several sinks.
type MultiSink []Sink

func (m MultiSink) Push(f *Frame) error {
	var first error
	for _, s := range m {
		if err := s.Push(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Streamer applies the emit policy for one run: frames at every interval-th
// step, plus the terminal frame exactly once.
type Streamer struct {
	runID    string
	interval int
	sink     Sink
	log      *slog.Logger
	last     int
	emitted  bool // whether `last` was actually pushed
}

// New builds a streamer. interval < 1 is treated as 1.
func New(runID string, interval int, sink Sink, log *slog.Logger) *Streamer {
	if interval < 1 {
		interval = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{runID: runID, interval: interval, sink: sink, log: log, last: -1}
}

// MaybeEmit pushes a frame when step falls on the emit interval.
func (st *Streamer) MaybeEmit(step int, energy float64, s *structure.Structure) {
	if step%st.interval != 0 {
		return
	}
	st.emit(step, energy, s, false, "")
}

// EmitFinal pushes the terminal frame. It always emits, unless the same
// step was already pushed, in which case only the closing notification is
// delivered via Close.
func (st *Streamer) EmitFinal(step int, energy float64, s *structure.Structure, reason string) {
	st.emit(step, energy, s, true, reason)
	if st.sink != nil {
		if err := st.sink.Close(); err != nil {
			st.log.Warn("closing frame sink", "run_id", st.runID, "error", err)
		}
	}
}

func (st *Streamer) emit(step int, energy float64, s *structure.Structure, final bool, reason string) {
	if st.sink == nil {
		return
	}
	if step < st.last {
		st.log.Warn("dropping out-of-order frame", "run_id", st.runID, "step", step, "last", st.last)
		return
	}
	if step == st.last && st.emitted && !final {
		return
	}
	f := &Frame{
		RunID:     st.runID,
		Step:      step,
		Energy:    energy,
		Symbols:   s.Symbols,
		Positions: append([]float64(nil), s.Positions...),
		PBC:       s.PBC,
		Final:     final,
		Reason:    reason,
	}
	if s.Cell != nil {
		f.Cell = append([]float64(nil), s.Cell...)
	}
	if err := st.sink.Push(f); err != nil {
		st.log.Warn("frame emission failed", "run_id", st.runID, "step", step, "error", err)
		return
	}
	st.last = step
	st.emitted = true
}
