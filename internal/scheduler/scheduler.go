package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/trigger"
)

const defaultTick = 15 * time.Second

// Submitter создаёт run с ключом идемпотентности.
type Submitter interface {
	Submit(ctx context.Context, input domain.RunInput, key string) (*domain.Run, bool, error)
}

// History находит последний run, запущенный по расписанию.
type History interface {
	LatestByKeyPrefix(ctx context.Context, prefix string) (*domain.Run, error)
}

// Lock — leader lock между экземплярами scheduler.
type Lock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// Scheduler запускает workflow в моменты расписания.
type Scheduler struct {
	schedule  *Schedule
	submitter Submitter
	lock      Lock
	history   History
	database  string
	tick      time.Duration
	logger    *slog.Logger

	mu sync.Mutex
	// cursor — последний обработанный момент; моменты до него не запускаются.
	cursor time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedule  *Schedule
	Submitter Submitter

	// Lock — leader lock; nil означает, что экземпляр всегда лидер.
	Lock Lock

	// History — откуда продолжить после простоя; nil — с момента старта.
	History History

	// Database — база для бэкапа; пусто — значение по умолчанию оркестратора.
	Database string

	// Tick — как часто проверять расписание (default: 15s).
	Tick time.Duration

	Logger *slog.Logger
}

// New создаёт Scheduler. Моменты до создания не запускаются, пока
// Resume не сдвинет курсор к последнему запущенному моменту.
func New(cfg Config) *Scheduler {
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedule:  cfg.Schedule,
		submitter: cfg.Submitter,
		lock:      cfg.Lock,
		history:   cfg.History,
		database:  cfg.Database,
		tick:      tick,
		logger:    logger,
		cursor:    time.Now(),
	}
}

// Tick запускает run, если с прошлого тика наступил момент расписания.
//
// Возвращает run (новый или уже существующий с тем же ключом) либо nil,
// если запускать нечего. При ошибке курсор не сдвигается, и момент
// будет повторён на следующем тике.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due, ok := s.schedule.LatestDue(s.cursor, now)
	if !ok {
		return nil, nil
	}

	key := IdempotencyKey(due)
	run, created, err := s.submitter.Submit(ctx, domain.RunInput{
		Database:    s.database,
		Source:      trigger.SourceSchedule,
		RequestedBy: "schedule " + s.schedule.String(),
	}, key)
	if err != nil {
		return nil, fmt.Errorf("submit scheduled run %s: %w", key, err)
	}
	s.cursor = due

	if created {
		s.logger.Info("scheduled run submitted", "run_id", run.ID, "due", due, "idempotency_key", key)
	} else {
		s.logger.Info("scheduled run already exists", "run_id", run.ID, "due", due, "idempotency_key", key)
	}
	return run, nil
}

// Resume ставит курсор на момент последнего run по расписанию.
//
// Моменты, пропущенные пока scheduler не работал, схлопываются
// в один, последний, и запускаются на ближайшем тике. Без истории
// курсор не меняется.
func (s *Scheduler) Resume(ctx context.Context) error {
	if s.history == nil {
		return nil
	}

	run, err := s.history.LatestByKeyPrefix(ctx, keyPrefix)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load schedule history: %w", err)
	}
	due, ok := ParseIdempotencyKey(run.IdempotencyKey)
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.cursor = due
	s.mu.Unlock()

	s.logger.Info("resumed from last scheduled run", "run_id", run.ID, "due", due)
	return nil
}

// Serve вызывает Tick, пока экземпляр лидер, до отмены ctx.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"cron", s.schedule.String(),
		"next", s.schedule.Next(time.Now()),
		"tick", s.tick,
	)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var leader bool
	defer func() {
		if leader && s.lock != nil {
			s.lock.Release(context.WithoutCancel(ctx))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case now := <-ticker.C:
			ok, err := s.acquire(ctx)
			if err != nil {
				s.logger.Warn("leader lock check failed", "error", err)
			}
			if ok != leader {
				leader = ok
				s.logger.Info("leadership changed", "leader", leader)

				// Прежний лидер мог запустить моменты после нашего курсора
				// или пропустить их.
				if leader {
					if err := s.Resume(ctx); err != nil {
						s.logger.Warn("failed to resume schedule", "error", err)
					}
				}
			}
			if !leader {
				continue
			}

			if _, err := s.Tick(ctx, now); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) acquire(ctx context.Context) (bool, error) {
	if s.lock == nil {
		return true, nil
	}
	return s.lock.TryAcquire(ctx)
}
