package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/runner"
	"github.com/atomflow/atomflow/internal/structure"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

type createRequest struct {
	Model     string      `json:"model"`
	Spec      runner.Spec `json:"spec"`
	Structure struct {
		Symbols    []string  `json:"symbols"`
		Positions  []float64 `json:"positions"`
		Velocities []float64 `json:"velocities,omitempty"`
		Cell       []float64 `json:"cell,omitempty"`
		PBC        [3]bool   `json:"pbc"`
	} `json:"structure"`
}

type runStatus struct {
	ID          string  `json:"id"`
	Step        int     `json:"step"`
	Reason      string  `json:"reason"`
	Energy      float64 `json:"energy"`
	Fmax        float64 `json:"fmax"`
	Temperature float64 `json:"temperature"`
	Error       string  `json:"error,omitempty"`
}

func statusOf(st runner.State) runStatus {
	out := runStatus{
		ID:          st.ID,
		Step:        st.Step,
		Reason:      st.TerminalReason(),
		Energy:      st.Energy,
		Fmax:        st.Fmax,
		Temperature: st.Temperature,
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.registry.List()})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	initial, err := structure.New(req.Structure.Symbols, req.Structure.Positions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Structure.Velocities != nil {
		if initial, err = initial.WithVelocities(req.Structure.Velocities); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	initial.Cell = req.Structure.Cell
	initial.PBC = req.Structure.PBC

	pot, err := s.registry.Resolve(r.Context(), req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// The run must outlive this request; it is bound to the manager's
	// lifetime, not the connection's.
	h, err := s.manager.Start(context.Background(), pot, req.Spec, initial)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, potential.ErrUnsupportedSpecies) || errors.Is(err, potential.ErrUnavailable) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}

	s.log.Info("run accepted", "run_id", h.ID, "model", req.Model, "mode", req.Spec.Mode)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": h.ID})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown run"))
		return
	}
	writeJSON(w, http.StatusOK, statusOf(h.Snapshot()))
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Cancel(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// streamRun upgrades to websocket and replays the run's frames, backlog
// first, as msgpack binary messages. The connection closes after the
// terminal frame.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request) {
	h, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown run"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for f := range h.Hub.Subscribe() {
		payload, err := msgpack.Marshal(f)
		if err != nil {
			s.log.Error("encoding frame", "run_id", h.ID, "error", err)
			return
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			s.log.Warn("frame stream dropped", "run_id", h.ID, "error", err)
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
