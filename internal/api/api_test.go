package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/orchestrator"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
	"github.com/shaiso/metamigrate/internal/trigger"
)

// nopPublisher ничего не публикует.
type nopPublisher struct{}

func (nopPublisher) PublishRunPending(context.Context, uuid.UUID) error { return nil }

// failingStarter всегда возвращает ошибку.
type failingStarter struct{ err error }

func (s failingStarter) Start(context.Context, domain.RunInput) (uuid.UUID, error) {
	return uuid.Nil, s.err
}

func newTestServer(t *testing.T, starter trigger.Starter) (*httptest.Server, *repo.MemoryRunRepo) {
	t.Helper()
	store := repo.NewMemoryRunRepo()
	if starter == nil {
		starter = trigger.NewSubmitter(store, nopPublisher{}, telemetry.NopLogger())
	}

	h := NewHandler(Config{Runs: store, Starter: starter, Logger: telemetry.NopLogger()})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

// decodeData разбирает {"data": ...} в out.
func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestStartRun_Accepted(t *testing.T) {
	server, store := newTestServer(t, nil)

	resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", strings.NewReader(`{"database":"metadata_manager"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	var run RunResponse
	decodeData(t, resp, &run)
	if run.State != domain.RunStateStart {
		t.Errorf("expected START, got %s", run.State)
	}
	if run.Source != trigger.SourceAPI || run.Database != "metadata_manager" {
		t.Errorf("unexpected run input: %+v", run)
	}

	if _, err := store.GetByID(context.Background(), run.ID); err != nil {
		t.Errorf("run not stored: %v", err)
	}
}

func TestStartRun_EmptyBody(t *testing.T) {
	server, _ := newTestServer(t, nil)

	resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("empty body should be accepted, got %d", resp.StatusCode)
	}
}

func TestStartRun_InvalidBody(t *testing.T) {
	server, _ := newTestServer(t, nil)

	resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", strings.NewReader(`{`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStartRun_StarterErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not configured", orchestrator.ErrStepNotConfigured, http.StatusServiceUnavailable},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, failingStarter{err: tt.err})

			resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	server, store := newTestServer(t, nil)

	run := domain.NewRun(domain.RunInput{Database: "metadata_manager"})
	run.State = domain.RunStateFailed
	run.FailedStep = domain.StepBackup
	run.ErrorCode = domain.ErrorCodeStepFailed
	run.Error = "States.TaskFailed: exit 1"
	run.Steps = []domain.StepResult{{
		InvocationID: uuid.New(),
		RunID:        run.ID,
		Step:         domain.StepBackup,
		ErrorCode:    domain.ErrorCodeStepFailed,
		Error:        "States.TaskFailed: exit 1",
	}}
	if err := store.Create(context.Background(), run); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/v1/runs/" + run.ID.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got RunResponse
	decodeData(t, resp, &got)
	if got.State != domain.RunStateFailed || got.DisplayName != "Failed" {
		t.Errorf("unexpected state %s (%s)", got.State, got.DisplayName)
	}
	if got.FailedStep != domain.StepBackup || got.ErrorCode != domain.ErrorCodeStepFailed {
		t.Errorf("failure not reported: %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].Error != "States.TaskFailed: exit 1" {
		t.Errorf("step results not reported: %+v", got.Steps)
	}
}

func TestGetRun_Errors(t *testing.T) {
	server, _ := newTestServer(t, nil)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/runs/not-a-uuid", http.StatusBadRequest},
		{"/api/v1/runs/" + uuid.NewString(), http.StatusNotFound},
	}

	for _, tt := range tests {
		resp, err := http.Get(server.URL + tt.path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.status, resp.StatusCode)
		}
	}
}

func TestListRuns_FilterByState(t *testing.T) {
	server, store := newTestServer(t, nil)

	for _, state := range []domain.RunState{domain.RunStateSucceeded, domain.RunStateFailed, domain.RunStateSucceeded} {
		run := domain.NewRun(domain.RunInput{})
		run.State = state
		if err := store.Create(context.Background(), run); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	resp, err := http.Get(server.URL + "/api/v1/runs?state=SUCCEEDED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var runs []RunResponse
	decodeData(t, resp, &runs)
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
	for _, r := range runs {
		if r.State != domain.RunStateSucceeded {
			t.Errorf("unexpected state %s", r.State)
		}
	}
}

func TestListRuns_InvalidQuery(t *testing.T) {
	server, _ := newTestServer(t, nil)

	for _, query := range []string{"state=DONE", "limit=-1", "offset=x"} {
		resp, err := http.Get(server.URL + "/api/v1/runs?" + query)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}
