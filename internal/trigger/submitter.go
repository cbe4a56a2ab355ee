package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
)

// RunCreator — часть хранилища runs, нужная Submitter'у.
type RunCreator interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)
}

// PendingPublisher сообщает оркестратору о новом run.
type PendingPublisher interface {
	PublishRunPending(ctx context.Context, runID uuid.UUID) error
}

// Submitter запускает runs вне процесса оркестратора.
//
// Run сохраняется в START и анонсируется через run.pending. Если
// публикация не удалась, run всё равно будет подхвачен poll loop'ом
// оркестратора, поэтому ошибка публикации только логируется.
type Submitter struct {
	store     RunCreator
	publisher PendingPublisher
	logger    *slog.Logger
}

// NewSubmitter создаёт Submitter.
func NewSubmitter(store RunCreator, publisher PendingPublisher, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{store: store, publisher: publisher, logger: logger}
}

// Start создаёт новый run. Каждый вызов даёт отдельный run.
func (s *Submitter) Start(ctx context.Context, input domain.RunInput) (uuid.UUID, error) {
	run, _, err := s.Submit(ctx, input, "")
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID, nil
}

// Submit создаёт run с ключом идемпотентности.
//
// Если run с таким ключом уже есть, возвращает его и created=false.
// Пустой ключ всегда создаёт новый run.
func (s *Submitter) Submit(ctx context.Context, input domain.RunInput, key string) (run *domain.Run, created bool, err error) {
	if key != "" {
		existing, err := s.store.GetByIdempotencyKey(ctx, key)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	run = domain.NewRun(input)
	run.IdempotencyKey = key

	if err := s.store.Create(ctx, run); err != nil {
		// Параллельный submit с тем же ключом успел раньше
		if key != "" && errors.Is(err, repo.ErrAlreadyExists) {
			existing, getErr := s.store.GetByIdempotencyKey(ctx, key)
			if getErr != nil {
				return nil, false, fmt.Errorf("lookup idempotency key: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create run: %w", err)
	}

	telemetry.RunsStarted.WithLabelValues(sourceLabel(input.Source)).Inc()
	s.logger.Info("run submitted", "run_id", run.ID, "source", input.Source, "database", input.Database)

	if err := s.publisher.PublishRunPending(ctx, run.ID); err != nil {
		s.logger.Warn("failed to announce run, leaving it for pickup", "run_id", run.ID, "error", err)
	}
	return run, true, nil
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}

// PollOnly — PendingPublisher без брокера: run подхватит poll loop оркестратора.
type PollOnly struct{}

// PublishRunPending ничего не делает.
func (PollOnly) PublishRunPending(context.Context, uuid.UUID) error { return nil }
