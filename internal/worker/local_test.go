package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/orchestrator"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
)

// localPlan — бэкап через lambda-заглушку, миграция через http-заглушку.
func localPlan() orchestrator.Plan {
	return orchestrator.Plan{
		Database: "metadata_manager",
		Backup: orchestrator.StepSpec{
			Target:  domain.StepTarget{Kind: domain.TargetLambda, Name: "backup"},
			Timeout: time.Second,
		},
		Migrate: orchestrator.StepSpec{
			Target:  domain.StepTarget{Kind: domain.TargetHTTP, Name: "migrate"},
			Timeout: time.Second,
		},
	}
}

func newLocalOrchestrator(t *testing.T, backup, migrate Executor) (*orchestrator.Orchestrator, *Local) {
	t.Helper()

	registry := NewRegistry()
	registry.Register(domain.TargetLambda, backup)
	registry.Register(domain.TargetHTTP, migrate)

	local := NewLocal(registry, telemetry.NopLogger())
	orch := orchestrator.New(orchestrator.Config{
		Store:      repo.NewMemoryRunRepo(),
		Dispatcher: local,
		Plan:       localPlan(),
		Logger:     telemetry.NopLogger(),
	})
	local.Attach(orch)
	return orch, local
}

func waitRun(t *testing.T, ctx context.Context, orch *orchestrator.Orchestrator, id uuid.UUID) *domain.Run {
	t.Helper()
	run, err := orch.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return run
}

func TestLocal_EndToEndSuccess(t *testing.T) {
	backup := &staticExecutor{outcome: &Outcome{}}
	migrate := &staticExecutor{outcome: &Outcome{}}
	orch, local := newLocalOrchestrator(t, backup, migrate)
	defer local.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := orch.Start(ctx, domain.RunInput{Source: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run := waitRun(t, ctx, orch, id)

	if run.State != domain.RunStateSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", run.State, run.Error)
	}
	if backup.calls != 1 || migrate.calls != 1 {
		t.Errorf("expected one call per step, got backup=%d migrate=%d", backup.calls, migrate.calls)
	}
	if len(run.Steps) != 2 {
		t.Errorf("expected 2 step results, got %d", len(run.Steps))
	}
}

func TestLocal_BackupTimeoutSkipsMigration(t *testing.T) {
	migrate := &staticExecutor{outcome: &Outcome{}}
	orch, local := newLocalOrchestrator(t, blockingExecutor{}, migrate)
	defer local.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := orch.Start(ctx, domain.RunInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run := waitRun(t, ctx, orch, id)

	if run.State != domain.RunStateFailed {
		t.Fatalf("expected FAILED, got %s", run.State)
	}
	if run.ErrorCode != domain.ErrorCodeStepTimeout {
		t.Errorf("expected STEP_TIMEOUT, got %q", run.ErrorCode)
	}
	if run.FailedStep != domain.StepBackup {
		t.Errorf("expected failed step backup, got %q", run.FailedStep)
	}
	if migrate.calls != 0 {
		t.Errorf("migration must not run after failed backup, got %d calls", migrate.calls)
	}
}
