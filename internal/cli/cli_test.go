package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAPI отдаёт run, который переходит в финальное состояние после нескольких запросов.
type fakeAPI struct {
	mu       sync.Mutex
	polls    int
	finalAt  int
	final    RunResponse
	started  []StartRunRequest
	lastPath string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		var req StartRunRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.started = append(f.started, req)
		f.mu.Unlock()
		writeData(w, http.StatusAccepted, RunResponse{ID: f.final.ID, State: "START", DisplayName: "Start"})
	})
	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != f.final.ID {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"run not found"}}`))
			return
		}
		f.mu.Lock()
		f.polls++
		done := f.polls >= f.finalAt
		f.mu.Unlock()
		if done {
			writeData(w, http.StatusOK, f.final)
			return
		}
		writeData(w, http.StatusOK, RunResponse{ID: f.final.ID, State: "BACKING_UP", DisplayName: "Backing Up", CurrentStep: "backup"})
	})
	mux.HandleFunc("GET /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastPath = r.URL.RequestURI()
		f.mu.Unlock()
		writeData(w, http.StatusOK, []RunResponse{f.final})
	})
	return mux
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func succeededRun() RunResponse {
	return RunResponse{
		ID:          "5f0c7c1e-7a52-4d8e-9d3c-1f1f4a0b9c11",
		State:       "SUCCEEDED",
		DisplayName: "Succeeded",
		Steps: []StepResultResponse{
			{Step: "backup", Success: true, DurationMs: 1200},
			{Step: "migrate", Success: true, DurationMs: 300},
		},
		DurationMs: 1500,
	}
}

func execute(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--api-url", serverURL}, args...))

	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRunStart_PrintsRunID(t *testing.T) {
	api := &fakeAPI{final: succeededRun(), finalAt: 1}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	out, err := execute(t, server.URL, "run", "start", "--database", "metadata_manager")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, api.final.ID) {
		t.Errorf("output should contain run id, got:\n%s", out)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.started) != 1 || api.started[0].Database != "metadata_manager" {
		t.Errorf("unexpected start requests: %+v", api.started)
	}
}

func TestRunWait_Succeeded(t *testing.T) {
	api := &fakeAPI{final: succeededRun(), finalAt: 3}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	out, err := execute(t, server.URL, "run", "wait", api.final.ID, "--interval", "10ms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Succeeded") || !strings.Contains(out, "migrate") {
		t.Errorf("expected final state and steps, got:\n%s", out)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.polls < 3 {
		t.Errorf("expected polling until finished, got %d polls", api.polls)
	}
}

func TestRunWait_FailedReturnsError(t *testing.T) {
	final := succeededRun()
	final.State = "FAILED"
	final.DisplayName = "Failed"
	final.FailedStep = "backup"
	final.ErrorCode = "STEP_TIMEOUT"
	final.Steps = []StepResultResponse{{Step: "backup", ErrorCode: "STEP_TIMEOUT", Error: "step did not complete within 1800s"}}

	api := &fakeAPI{final: final, finalAt: 1}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	_, err := execute(t, server.URL, "run", "start", "--wait", "--interval", "10ms")
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "STEP_TIMEOUT") {
		t.Errorf("error should carry the code, got %v", err)
	}
}

func TestRunShow_NotFound(t *testing.T) {
	api := &fakeAPI{final: succeededRun(), finalAt: 1}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	_, err := execute(t, server.URL, "run", "show", "missing")
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("expected NOT_FOUND error, got %v", err)
	}
}

func TestRunList_JSON(t *testing.T) {
	api := &fakeAPI{final: succeededRun(), finalAt: 1}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	out, err := execute(t, server.URL, "--json", "run", "list", "--state", "SUCCEEDED", "--limit", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var runs []RunResponse
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].ID != api.final.ID {
		t.Errorf("unexpected runs: %+v", runs)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.lastPath != "/api/v1/runs?limit=5&state=SUCCEEDED" {
		t.Errorf("unexpected query: %s", api.lastPath)
	}
}

func TestClient_WaitRunHonoursContext(t *testing.T) {
	api := &fakeAPI{final: succeededRun(), finalAt: 1 << 30}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL).WaitRun(ctx, api.final.ID, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
