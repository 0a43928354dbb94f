package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/stream"
	"github.com/atomflow/atomflow/internal/structure"
	"github.com/google/uuid"
)

// Handle is the live view of a managed run.
type Handle struct {
	ID   string
	Hub  *stream.Hub
	Done <-chan struct{}

	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
}

// Snapshot returns a copy of the run's latest state.
func (h *Handle) Snapshot() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Cancel requests cooperative cancellation; the run stops at the next step
// boundary.
func (h *Handle) Cancel() { h.cancel() }

func (h *Handle) set(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Manager tracks concurrent, independent runs. Each run owns its
// State/Structure pair exclusively; the shared potential is read-only.
type Manager struct {
	log *slog.Logger

	mu   sync.Mutex
	runs map[string]*Handle
}

func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, runs: make(map[string]*Handle)}
}

// Start validates the request, then launches the run in its own goroutine.
// Configuration-class errors (bad spec, unsupported species) are returned
// synchronously and no run is registered.
func (m *Manager) Start(ctx context.Context, pot potential.Potential, spec Spec, initial *structure.Structure) (*Handle, error) {
	if err := Validate(pot, spec, initial); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	hub := stream.NewHub()
	done := make(chan struct{})

	h := &Handle{
		ID:     id,
		Hub:    hub,
		Done:   done,
		cancel: cancel,
		state:  State{ID: id, Structure: initial, Reason: ReasonRunning},
	}

	log := m.log.With("run_id", id)
	r := New(pot, stream.New(id, spec.FrameInterval, hub, log), log)
	r.OnUpdate = func(s State) {
		s.ID = id
		h.set(s)
	}

	m.mu.Lock()
	m.runs[id] = h
	m.mu.Unlock()

	go func() {
		defer cancel()
		defer close(done)
		final := r.Run(runCtx, spec, initial)
		final.ID = id
		h.set(*final)
	}()

	return h, nil
}

// Get looks up a run by ID.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.runs[id]
	return h, ok
}

// Cancel requests cancellation of a run.
func (m *Manager) Cancel(id string) error {
	h, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("runner: no run %s", id)
	}
	h.Cancel()
	return nil
}

// List returns handles for all known runs.
func (m *Manager) List() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	handles := make([]*Handle, 0, len(m.runs))
	for _, h := range m.runs {
		handles = append(handles, h)
	}
	return handles
}

// Shutdown cancels every run and waits for the loops to exit.
func (m *Manager) Shutdown() {
	for _, h := range m.List() {
		h.Cancel()
	}
	for _, h := range m.List() {
		<-h.Done
	}
}
