package potential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atomflow/atomflow/internal/structure"
)

// Remote evaluates structures against an external inference server hosting
// a machine-learned potential (e.g. a MACE foundation model). Model weights
// live in the server; this client is stateless and safe to share across
// runs.
type Remote struct {
	model    string
	baseURL  string
	elements []string
	hc       *http.Client
}

type remoteModelInfo struct {
	Name     string   `json:"name"`
	Elements []string `json:"elements"`
}

type remoteEvalRequest struct {
	Model     string    `json:"model"`
	Symbols   []string  `json:"symbols"`
	Positions []float64 `json:"positions"`
	Cell      []float64 `json:"cell,omitempty"`
	PBC       [3]bool   `json:"pbc"`
}

type remoteEvalResponse struct {
	Energy float64   `json:"energy"`
	Forces []float64 `json:"forces"`
	Stress []float64 `json:"stress,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// NewRemote performs the model handshake against baseURL and returns a
// client bound to the named model. A failed handshake or a model the server
// does not host surfaces as ErrUnavailable.
func NewRemote(ctx context.Context, baseURL, model string) (*Remote, error) {
	hc := &http.Client{Timeout: 5 * time.Minute}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: inference server unreachable: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: model listing returned %s", ErrUnavailable, resp.Status)
	}

	var listing struct {
		Models []remoteModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("%w: bad model listing: %v", ErrUnavailable, err)
	}
	for _, m := range listing.Models {
		if m.Name == model {
			return &Remote{
				model:    model,
				baseURL:  baseURL,
				elements: m.Elements,
				hc:       hc,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: server does not host model %q", ErrUnavailable, model)
}

func (r *Remote) Name() string { return r.model }

func (r *Remote) Elements() []string { return r.elements }

func (r *Remote) Evaluate(ctx context.Context, s *structure.Structure) (*Result, error) {
	body, err := json.Marshal(remoteEvalRequest{
		Model:     r.model,
		Symbols:   s.Symbols,
		Positions: s.Positions,
		Cell:      s.Cell,
		PBC:       s.PBC,
	})
	if err != nil {
		return nil, &EvalError{Model: r.model, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, &EvalError{Model: r.model, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, &EvalError{Model: r.model, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &EvalError{Model: r.model, Cause: fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(msg))}
	}

	var out remoteEvalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &EvalError{Model: r.model, Cause: err}
	}
	if out.Error != "" {
		return nil, &EvalError{Model: r.model, Cause: fmt.Errorf("%s", out.Error)}
	}
	return checkResult(r.model, s, &Result{Energy: out.Energy, Forces: out.Forces, Stress: out.Stress})
}
