package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
)

// MemoryRunRepo — хранилище runs в памяти процесса.
//
// Используется в локальном режиме оркестратора и в тестах.
// Семантика совпадает с RunRepo, включая CAS в Transition.
type MemoryRunRepo struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*domain.Run
	keys map[string]uuid.UUID
}

// NewMemoryRunRepo создаёт пустое хранилище.
func NewMemoryRunRepo() *MemoryRunRepo {
	return &MemoryRunRepo{
		runs: make(map[uuid.UUID]*domain.Run),
		keys: make(map[string]uuid.UUID),
	}
}

// Create сохраняет новый run.
func (m *MemoryRunRepo) Create(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; ok {
		return ErrAlreadyExists
	}
	if run.IdempotencyKey != "" {
		if _, ok := m.keys[run.IdempotencyKey]; ok {
			return ErrAlreadyExists
		}
		m.keys[run.IdempotencyKey] = run.ID
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

// GetByID возвращает копию run.
func (m *MemoryRunRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (m *MemoryRunRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	m.mu.RLock()
	id, ok := m.keys[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

// LatestByKeyPrefix возвращает самый новый run с ключом, начинающимся с prefix.
func (m *MemoryRunRepo) LatestByKeyPrefix(_ context.Context, prefix string) (*domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *domain.Run
	for key, id := range m.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if run := m.runs[id]; latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return cloneRun(latest), nil
}

// List возвращает runs, новые первыми.
func (m *MemoryRunRepo) List(_ context.Context, filter RunFilter) ([]domain.Run, error) {
	filter = filter.normalize()
	all := m.snapshot(func(r *domain.Run) bool {
		return filter.State == "" || r.State == filter.State
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if filter.Offset >= len(all) {
		return nil, nil
	}
	all = all[filter.Offset:]
	if len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

// ListByState возвращает самые старые runs в указанном состоянии.
func (m *MemoryRunRepo) ListByState(_ context.Context, state domain.RunState, limit int) ([]domain.Run, error) {
	runs := m.snapshot(func(r *domain.Run) bool { return r.State == state })
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// ListExpired возвращает runs с просроченным шагом.
func (m *MemoryRunRepo) ListExpired(_ context.Context, before time.Time, limit int) ([]domain.Run, error) {
	runs := m.snapshot(func(r *domain.Run) bool {
		return !r.State.IsTerminal() && r.StepDeadline != nil && r.StepDeadline.Before(before)
	})
	sort.Slice(runs, func(i, j int) bool { return runs[i].StepDeadline.Before(*runs[j].StepDeadline) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Transition сохраняет run, если хранимая версия в состоянии from
// и ждёт вызов invocation.
func (m *MemoryRunRepo) Transition(_ context.Context, run *domain.Run, from domain.RunState, invocation *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.State != from || !sameInvocation(stored.CurrentInvocation, invocation) {
		return ErrInvalidState
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *MemoryRunRepo) snapshot(match func(*domain.Run) bool) []domain.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Run
	for _, r := range m.runs {
		if match(r) {
			out = append(out, *cloneRun(r))
		}
	}
	return out
}

func sameInvocation(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// cloneRun копирует run, чтобы вызывающий не мог менять хранимое состояние.
func cloneRun(r *domain.Run) *domain.Run {
	c := *r
	if r.Steps != nil {
		c.Steps = make([]domain.StepResult, len(r.Steps))
		copy(c.Steps, r.Steps)
	}
	if r.CurrentInvocation != nil {
		id := *r.CurrentInvocation
		c.CurrentInvocation = &id
	}
	if r.StepDeadline != nil {
		t := *r.StepDeadline
		c.StepDeadline = &t
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
