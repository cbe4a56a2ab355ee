package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
	"github.com/shaiso/metamigrate/internal/trigger"
)

func mustParse(t *testing.T, expr, tz string) *Schedule {
	t.Helper()
	s, err := ParseSchedule(expr, tz)
	if err != nil {
		t.Fatalf("parse %q: %v", expr, err)
	}
	return s
}

// --- Cron Tests ---

func TestParseSchedule_Invalid(t *testing.T) {
	tests := []struct {
		expr, tz string
	}{
		{"not a cron", "UTC"},
		{"0 0 * * * *", "UTC"}, // 6 полей
		{"0 3 * * *", "Mars/Olympus"},
	}

	for _, tt := range tests {
		if _, err := ParseSchedule(tt.expr, tt.tz); err == nil {
			t.Errorf("expected error for %q in %q", tt.expr, tt.tz)
		}
	}
}

func TestSchedule_NextRespectsTimezone(t *testing.T) {
	// 03:00 в Мельбурне (AEDT, UTC+11) = 16:00 UTC предыдущего дня
	s := mustParse(t, "0 3 * * *", "Australia/Melbourne")
	from := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	got := s.Next(from)
	want := time.Date(2026, 1, 10, 16, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestSchedule_LatestDueCollapsesMissed(t *testing.T) {
	s := mustParse(t, "0 * * * *", "UTC")
	after := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	now := time.Date(2026, 1, 10, 12, 15, 0, 0, time.UTC)

	due, ok := s.LatestDue(after, now)
	if !ok {
		t.Fatal("expected a due moment")
	}
	if want := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Errorf("expected %s, got %s", want, due)
	}

	if _, ok := s.LatestDue(now, now.Add(time.Minute)); ok {
		t.Error("no moment expected within one minute after 12:15")
	}
}

func TestIdempotencyKey(t *testing.T) {
	due := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	if got := IdempotencyKey(due); got != "schedule_1768046400" {
		t.Errorf("unexpected key %s", got)
	}
}

func TestParseIdempotencyKey(t *testing.T) {
	due := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	got, ok := ParseIdempotencyKey(IdempotencyKey(due))
	if !ok || !got.Equal(due) {
		t.Errorf("expected %s, got %s (ok=%v)", due, got, ok)
	}

	for _, key := range []string{"", "manual", "schedule_", "schedule_abc"} {
		if _, ok := ParseIdempotencyKey(key); ok {
			t.Errorf("key %q should not parse", key)
		}
	}
}

// --- Scheduler Tests ---

// pendingNop ничего не публикует.
type pendingNop struct{}

func (pendingNop) PublishRunPending(context.Context, uuid.UUID) error { return nil }

func newScheduler(t *testing.T, store *repo.MemoryRunRepo, cursor time.Time) *Scheduler {
	t.Helper()
	s := New(Config{
		Schedule:  mustParse(t, "0 3 * * *", "UTC"),
		Submitter: trigger.NewSubmitter(store, pendingNop{}, telemetry.NopLogger()),
		Database:  "metadata_manager",
		Logger:    telemetry.NopLogger(),
	})
	s.cursor = cursor
	return s
}

func TestTick_SubmitsOncePerMoment(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	start := time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)
	s := newScheduler(t, store, start)

	// До 03:00 — ничего
	run, err := s.Tick(context.Background(), start.Add(30*time.Minute))
	if err != nil || run != nil {
		t.Fatalf("expected no run before due, got %v, %v", run, err)
	}

	run, err = s.Tick(context.Background(), start.Add(61*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run == nil {
		t.Fatal("expected a run at 03:00")
	}
	if run.Input.Source != trigger.SourceSchedule || run.Input.Database != "metadata_manager" {
		t.Errorf("unexpected input %+v", run.Input)
	}
	if run.IdempotencyKey != "schedule_1768014000" {
		t.Errorf("unexpected key %s", run.IdempotencyKey)
	}

	// Повторный тик в тот же момент ничего не создаёт
	again, err := s.Tick(context.Background(), start.Add(62*time.Minute))
	if err != nil || again != nil {
		t.Errorf("expected nothing on next tick, got %v, %v", again, err)
	}
}

func TestTick_TwoInstancesShareMoment(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	start := time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)

	first, err := newScheduler(t, store, start).Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := newScheduler(t, store, start).Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("same moment must map to one run, got %s and %s", first.ID, second.ID)
	}
	runs, _ := store.List(context.Background(), repo.RunFilter{})
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

// failingSubmitter всегда возвращает ошибку.
type failingSubmitter struct{ calls int }

func (f *failingSubmitter) Submit(context.Context, domain.RunInput, string) (*domain.Run, bool, error) {
	f.calls++
	return nil, false, errors.New("db down")
}

func TestTick_ErrorKeepsMoment(t *testing.T) {
	sub := &failingSubmitter{}
	start := time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)
	s := New(Config{Schedule: mustParse(t, "0 3 * * *", ""), Submitter: sub, Logger: telemetry.NopLogger()})
	s.cursor = start

	now := start.Add(2 * time.Hour)
	if _, err := s.Tick(context.Background(), now); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.Tick(context.Background(), now); err == nil {
		t.Fatal("expected error")
	}
	if sub.calls != 2 {
		t.Errorf("failed moment should be retried, got %d calls", sub.calls)
	}
}

// fakeLock — lock с заданным результатом.
type fakeLock struct {
	mu       sync.Mutex
	held     bool
	released bool
}

func (l *fakeLock) TryAcquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held, nil
}

func (l *fakeLock) Release(context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
}

// countingSubmitter считает вызовы.
type countingSubmitter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSubmitter) Submit(_ context.Context, input domain.RunInput, key string) (*domain.Run, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	run := domain.NewRun(input)
	run.IdempotencyKey = key
	return run, true, nil
}

func (c *countingSubmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestServe_OnlyLeaderSubmits(t *testing.T) {
	for _, held := range []bool{false, true} {
		sub := &countingSubmitter{}
		lock := &fakeLock{held: held}
		s := New(Config{
			Schedule:  mustParse(t, "* * * * *", "UTC"),
			Submitter: sub,
			Lock:      lock,
			Tick:      10 * time.Millisecond,
			Logger:    telemetry.NopLogger(),
		})
		// Каждую минуту есть момент: сдвигаем курсор в прошлое
		s.cursor = time.Now().Add(-2 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		if err := s.Serve(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		cancel()

		// Второй вызов возможен, только если за время теста наступила новая минута
		if held && (sub.count() < 1 || sub.count() > 2) {
			t.Errorf("leader should submit once per moment, got %d", sub.count())
		}
		if !held && sub.count() != 0 {
			t.Errorf("follower must not submit, got %d", sub.count())
		}
		if held != lock.released {
			t.Errorf("held=%v: released=%v", held, lock.released)
		}
	}
}

func TestResume_RunsLatestMissedMoment(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemoryRunRepo()
	submitter := trigger.NewSubmitter(store, pendingNop{}, telemetry.NopLogger())

	// Последний запуск был 10 января в 03:00, потом scheduler не работал
	last := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	if _, _, err := submitter.Submit(ctx, domain.RunInput{}, IdempotencyKey(last)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	s := New(Config{
		Schedule:  mustParse(t, "0 3 * * *", "UTC"),
		Submitter: submitter,
		History:   store,
		Logger:    telemetry.NopLogger(),
	})
	now := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	s.cursor = now

	if err := s.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	run, err := s.Tick(ctx, now)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if run == nil {
		t.Fatal("expected the missed moment to run")
	}
	// 11, 12 и 13 января схлопываются в последний момент
	if want := IdempotencyKey(time.Date(2026, 1, 13, 3, 0, 0, 0, time.UTC)); run.IdempotencyKey != want {
		t.Errorf("expected %s, got %s", want, run.IdempotencyKey)
	}

	if again, err := s.Tick(ctx, now.Add(time.Minute)); err != nil || again != nil {
		t.Errorf("expected nothing on next tick, got %v, %v", again, err)
	}
	runs, _ := store.List(ctx, repo.RunFilter{})
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestResume_NoHistoryKeepsCursor(t *testing.T) {
	store := repo.NewMemoryRunRepo()
	s := New(Config{
		Schedule:  mustParse(t, "0 3 * * *", "UTC"),
		Submitter: trigger.NewSubmitter(store, pendingNop{}, telemetry.NopLogger()),
		History:   store,
		Logger:    telemetry.NopLogger(),
	})
	cursor := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	s.cursor = cursor

	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !s.cursor.Equal(cursor) {
		t.Errorf("cursor moved to %s without history", s.cursor)
	}
}
