package stream

import "sync"

// Hub is a Sink that retains a run's frames and replays them to
// subscribers: each subscriber first receives the backlog, then live
// frames, and its channel closes after the terminal frame. Subscriber
// channels are buffered generously past the step cap, so pushing never
// blocks the simulation loop.
type Hub struct {
	mu     sync.Mutex
	frames []*Frame
	subs   []chan *Frame
	closed bool
}

// Subscriber buffer headroom beyond the retained backlog. Runs are capped
// at 1000 steps, so backlog+headroom always fits.
const hubSubBuffer = 1100

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Push(f *Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.frames = append(h.frames, f)
	for _, ch := range h.subs {
		select {
		case ch <- f:
		default:
			// Subscriber stopped draining; terminal delivery is handled
			// by the channel close below.
		}
	}
	if f.Final {
		h.closeLocked()
	}
	return nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
	return nil
}

func (h *Hub) closeLocked() {
	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

// Subscribe returns a channel delivering the backlog followed by live
// frames. The channel closes once the run's terminal frame has been
// delivered.
func (h *Hub) Subscribe() <-chan *Frame {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *Frame, len(h.frames)+hubSubBuffer)
	for _, f := range h.frames {
		ch <- f
	}
	if h.closed {
		close(ch)
	} else {
		h.subs = append(h.subs, ch)
	}
	return ch
}

// Frames returns a copy of the retained frame list.
func (h *Hub) Frames() []*Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Frame(nil), h.frames...)
}
