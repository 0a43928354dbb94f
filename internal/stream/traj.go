package stream

import (
	"io"
	"sync"

	"github.com/atomflow/atomflow/internal/structure"
)

// TrajectorySink appends emitted frames to w as extended-XYZ, one frame per
// emission.
type TrajectorySink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTrajectorySink(w io.Writer) *TrajectorySink {
	return &TrajectorySink{w: w}
}

func (ts *TrajectorySink) Push(f *Frame) error {
	s, err := structure.New(f.Symbols, f.Positions)
	if err != nil {
		return err
	}
	s.Cell = f.Cell
	s.PBC = f.PBC

	ts.mu.Lock()
	defer ts.mu.Unlock()
	return structure.WriteXYZ(ts.w, s, f.Energy)
}

func (ts *TrajectorySink) Close() error {
	if c, ok := ts.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
