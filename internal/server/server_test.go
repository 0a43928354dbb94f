package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/runner"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := New(":0", potential.NewRegistry(), slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func createBody(t *testing.T, model string, spec runner.Spec) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"model": model,
		"spec":  spec,
		"structure": map[string]any{
			"symbols":   []string{"Ar", "Ar"},
			"positions": []float64{0, 0, 0, 1.5, 0, 0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(body)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/models")
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Models []string `json:"models"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Models) != 1 || out.Models[0] != "lj" {
		t.Errorf("models = %v, want [lj]", out.Models)
	}
}

func TestCreateAndPollRun(t *testing.T) {
	srv := newTestServer(t)
	spec := runner.DefaultOptSpec()
	spec.Steps = 50

	resp, err := http.Post(srv.URL+"/api/runs", "application/json", createBody(t, "lj", spec))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &created)
	if created.ID == "" {
		t.Fatal("no run id returned")
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/runs/" + created.ID)
		if err != nil {
			t.Fatal(err)
		}
		var status struct {
			Reason string `json:"reason"`
			Step   int    `json:"step"`
		}
		decodeJSON(t, resp, &status)
		if status.Reason != string(runner.ReasonRunning) {
			if status.Reason != string(runner.ReasonConverged) && status.Reason != string(runner.ReasonMaxSteps) {
				t.Fatalf("unexpected terminal reason %q", status.Reason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateRunRejections(t *testing.T) {
	srv := newTestServer(t)

	t.Run("unknown model", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/runs", "application/json", createBody(t, "mace-mp-0", runner.DefaultOptSpec()))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("invalid spec", func(t *testing.T) {
		spec := runner.DefaultOptSpec()
		spec.Steps = 0
		resp, err := http.Post(srv.URL+"/api/runs", "application/json", createBody(t, "lj", spec))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("garbage body", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/runs", "application/json", bytes.NewBufferString("{"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestCancelRun(t *testing.T) {
	srv := newTestServer(t)
	spec := runner.DefaultMDSpec()
	spec.Steps = runner.MaxSteps

	resp, err := http.Post(srv.URL+"/api/runs", "application/json", createBody(t, "lj", spec))
	if err != nil {
		t.Fatal(err)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &created)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/runs/"+created.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Errorf("cancel status = %d, want 202", resp2.StatusCode)
	}
}

func TestUnknownRun(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/runs/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
