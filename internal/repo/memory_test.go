package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
)

// --- MemoryRunRepo Tests ---

func TestMemoryRunRepo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunRepo()

	run := domain.NewRun(domain.RunInput{Database: "metadata_manager"})
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.State != domain.RunStateStart {
		t.Errorf("expected START, got %s", got.State)
	}
	if got.Input.Database != "metadata_manager" {
		t.Errorf("expected database metadata_manager, got %q", got.Input.Database)
	}

	// Изменение копии не должно затрагивать хранилище
	got.State = domain.RunStateFailed
	again, _ := store.GetByID(ctx, run.ID)
	if again.State != domain.RunStateStart {
		t.Error("stored run should not be mutated through returned copy")
	}
}

func TestMemoryRunRepo_GetByID_NotFound(t *testing.T) {
	_, err := NewMemoryRunRepo().GetByID(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRunRepo_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunRepo()

	first := domain.NewRun(domain.RunInput{})
	first.IdempotencyKey = "schedule_1700000000"
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	second := domain.NewRun(domain.RunInput{})
	second.IdempotencyKey = "schedule_1700000000"
	if err := store.Create(ctx, second); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.GetByIdempotencyKey(ctx, "schedule_1700000000")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("expected run %s, got %s", first.ID, got.ID)
	}
}

func TestMemoryRunRepo_Transition_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunRepo()

	run := domain.NewRun(domain.RunInput{})
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	inv := &domain.StepInvocation{ID: uuid.New(), RunID: run.ID, Step: domain.StepBackup, TimeoutSec: 60, IssuedAt: time.Now()}
	run.State = domain.RunStateBackingUp
	run.MarkStepIssued(inv)

	if err := store.Transition(ctx, run, domain.RunStateStart, nil); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Повторное применение того же перехода должно быть отклонено
	if err := store.Transition(ctx, run, domain.RunStateStart, nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}

	// Чужой invocation ID тоже отклоняется
	other := uuid.New()
	if err := store.Transition(ctx, run, domain.RunStateBackingUp, &other); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState for foreign invocation, got %v", err)
	}

	// Правильный invocation ID проходит
	issued := inv.ID
	run.MarkFailed(domain.StepBackup, domain.ErrorCodeStepFailed, "boom")
	if err := store.Transition(ctx, run, domain.RunStateBackingUp, &issued); err != nil {
		t.Errorf("expected transition to succeed, got %v", err)
	}
}

func TestMemoryRunRepo_Transition_NotFound(t *testing.T) {
	run := domain.NewRun(domain.RunInput{})
	err := NewMemoryRunRepo().Transition(context.Background(), run, domain.RunStateStart, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRunRepo_ListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunRepo()

	expired := domain.NewRun(domain.RunInput{})
	past := time.Now().Add(-time.Minute)
	expired.State = domain.RunStateBackingUp
	expired.StepDeadline = &past

	fresh := domain.NewRun(domain.RunInput{})
	future := time.Now().Add(time.Hour)
	fresh.State = domain.RunStateMigrating
	fresh.StepDeadline = &future

	for _, r := range []*domain.Run{expired, fresh} {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	runs, err := store.ListExpired(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != expired.ID {
		t.Errorf("expected only expired run, got %d runs", len(runs))
	}
}

func TestMemoryRunRepo_List_FilterAndPaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunRepo()

	base := time.Now()
	for i := 0; i < 5; i++ {
		r := domain.NewRun(domain.RunInput{})
		r.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if i%2 == 0 {
			r.State = domain.RunStateSucceeded
		}
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	succeeded, _ := store.List(ctx, RunFilter{State: domain.RunStateSucceeded})
	if len(succeeded) != 3 {
		t.Errorf("expected 3 succeeded runs, got %d", len(succeeded))
	}

	page, _ := store.List(ctx, RunFilter{Limit: 2, Offset: 1})
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if !page[0].CreatedAt.After(page[1].CreatedAt) {
		t.Error("expected newest first")
	}
}

func TestMemoryRunRepo_LatestByKeyPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunRepo()

	if _, err := store.LatestByKeyPrefix(ctx, "schedule_"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	base := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	for i, key := range []string{"schedule_100", "schedule_200", "manual-1"} {
		run := domain.NewRun(domain.RunInput{})
		run.IdempotencyKey = key
		run.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.Create(ctx, run); err != nil {
			t.Fatalf("Create %s: %v", key, err)
		}
	}

	got, err := store.LatestByKeyPrefix(ctx, "schedule_")
	if err != nil {
		t.Fatalf("LatestByKeyPrefix: %v", err)
	}
	if got.IdempotencyKey != "schedule_200" {
		t.Errorf("expected schedule_200, got %s", got.IdempotencyKey)
	}
}
