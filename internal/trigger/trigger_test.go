package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
)

// --- Fakes ---

// recordingStarter запоминает входы и выдаёт новый ID на каждый вызов.
type recordingStarter struct {
	mu     sync.Mutex
	inputs []domain.RunInput
	err    error
}

func (s *recordingStarter) Start(_ context.Context, input domain.RunInput) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return uuid.Nil, s.err
	}
	s.inputs = append(s.inputs, input)
	return uuid.New(), nil
}

// recordingPublisher запоминает анонсированные runs.
type recordingPublisher struct {
	mu   sync.Mutex
	runs []uuid.UUID
	err  error
}

func (p *recordingPublisher) PublishRunPending(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, id)
	return p.err
}

// --- Handler Tests ---

func TestHandleInvoke_ReturnsRunID(t *testing.T) {
	starter := &recordingStarter{}
	h := NewHandler(starter, telemetry.NopLogger())

	resp, err := h.HandleInvoke(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(resp.RunID); err != nil {
		t.Errorf("expected run id, got %q", resp.RunID)
	}
	if len(starter.inputs) != 1 || starter.inputs[0].Source != SourceInvoke {
		t.Errorf("expected one invoke start, got %+v", starter.inputs)
	}
}

func TestHandleInvoke_EveryCallIsANewRun(t *testing.T) {
	starter := &recordingStarter{}
	h := NewHandler(starter, telemetry.NopLogger())

	first, _ := h.HandleInvoke(context.Background(), Request{})
	second, _ := h.HandleInvoke(context.Background(), Request{})

	if first.RunID == second.RunID {
		t.Error("two triggers must produce two runs")
	}
}

func TestHandleInvoke_StartError(t *testing.T) {
	h := NewHandler(&recordingStarter{err: errors.New("db down")}, telemetry.NopLogger())

	if _, err := h.HandleInvoke(context.Background(), Request{}); err == nil {
		t.Error("expected error")
	}
}

func TestHandleCustomResource(t *testing.T) {
	tests := []struct {
		name        string
		requestType cfn.RequestType
		wantStart   bool
	}{
		{"create", cfn.RequestCreate, true},
		{"update", cfn.RequestUpdate, true},
		{"delete", cfn.RequestDelete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &recordingStarter{}
			h := NewHandler(starter, telemetry.NopLogger())

			physicalID, data, err := h.HandleCustomResource(context.Background(), cfn.Event{
				RequestType:        tt.requestType,
				LogicalResourceID:  "MigrationCustomResource",
				StackID:            "arn:aws:cloudformation:ap-southeast-2:123456789012:stack/MetadataManager/1",
				ResourceProperties: map[string]interface{}{"Database": "metadata_manager"},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if physicalID != "metamigrate-MigrationCustomResource" {
				t.Errorf("unexpected physical id %q", physicalID)
			}

			if !tt.wantStart {
				if len(starter.inputs) != 0 || data != nil {
					t.Errorf("delete must not start a run")
				}
				return
			}

			if len(starter.inputs) != 1 {
				t.Fatalf("expected one run, got %d", len(starter.inputs))
			}
			if starter.inputs[0].Database != "metadata_manager" || starter.inputs[0].Source != SourceCloudFormation {
				t.Errorf("unexpected input %+v", starter.inputs[0])
			}
			if _, err := uuid.Parse(data["Response"].(string)); err != nil {
				t.Errorf("Response should carry the run id, got %v", data["Response"])
			}
		})
	}
}

func TestHandleCustomResource_KeepsPhysicalID(t *testing.T) {
	h := NewHandler(&recordingStarter{}, telemetry.NopLogger())

	physicalID, _, err := h.HandleCustomResource(context.Background(), cfn.Event{
		RequestType:        cfn.RequestUpdate,
		PhysicalResourceID: "existing",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if physicalID != "existing" {
		t.Errorf("update must keep physical id, got %q", physicalID)
	}
}

// --- Submitter Tests ---

func TestSubmitter_CreatesPendingRun(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	pub := &recordingPublisher{}
	s := NewSubmitter(store, pub, telemetry.NopLogger())

	id, err := s.Start(context.Background(), domain.RunInput{Source: SourceAPI})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if run.State != domain.RunStateStart {
		t.Errorf("expected START, got %s", run.State)
	}
	if len(pub.runs) != 1 || pub.runs[0] != id {
		t.Errorf("expected run.pending for %s, got %v", id, pub.runs)
	}
}

func TestSubmitter_PublishFailureKeepsRun(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	s := NewSubmitter(store, &recordingPublisher{err: errors.New("broker down")}, telemetry.NopLogger())

	id, err := s.Start(context.Background(), domain.RunInput{})
	if err != nil {
		t.Fatalf("publish failure must not fail the trigger: %v", err)
	}
	if _, err := store.GetByID(context.Background(), id); err != nil {
		t.Errorf("run should stay for pickup: %v", err)
	}
}

func TestSubmitter_IdempotencyKey(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	pub := &recordingPublisher{}
	s := NewSubmitter(store, pub, telemetry.NopLogger())

	first, created, err := s.Submit(context.Background(), domain.RunInput{Source: SourceSchedule}, "schedule_1760745600")
	if err != nil || !created {
		t.Fatalf("expected created run, got created=%v err=%v", created, err)
	}

	second, created, err := s.Submit(context.Background(), domain.RunInput{Source: SourceSchedule}, "schedule_1760745600")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("same key must not create a second run")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing run %s, got %s", first.ID, second.ID)
	}
	if len(pub.runs) != 1 {
		t.Errorf("expected one announcement, got %d", len(pub.runs))
	}
}

func TestSubmitter_ConcurrentStartsAreIndependent(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	s := NewSubmitter(store, &recordingPublisher{}, telemetry.NopLogger())

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.Start(context.Background(), domain.RunInput{})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	if ids[0] == ids[1] {
		t.Error("concurrent triggers must produce independent runs")
	}
}
