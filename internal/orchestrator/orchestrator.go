package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/mq"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultTimeoutGrace = 30 * time.Second
)

// RunStore — хранилище runs.
//
// Transition — compare-and-swap: запись проходит, только если хранимый run
// в состоянии from и ждёт вызов invocation.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Transition(ctx context.Context, run *domain.Run, from domain.RunState, invocation *uuid.UUID) error
	ListByState(ctx context.Context, state domain.RunState, limit int) ([]domain.Run, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.Run, error)
}

// Dispatcher доставляет вызов шага исполнителю.
//
// Dispatch не ждёт завершения шага: результат приходит позже
// через HandleStepResult.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv *domain.StepInvocation) error
}

// DispatchFunc — адаптер функции к Dispatcher.
type DispatchFunc func(ctx context.Context, inv *domain.StepInvocation) error

// Dispatch вызывает f.
func (f DispatchFunc) Dispatch(ctx context.Context, inv *domain.StepInvocation) error {
	return f(ctx, inv)
}

// Notifier получает уведомления о сохранённых переходах.
type Notifier interface {
	RunStateChanged(ctx context.Context, run *domain.Run, from domain.RunState) error
}

// Orchestrator ведёт runs по таблице переходов.
//
// Оркестратор не держит горутину на ожидающий шаг: run продвигается
// только когда приходит результат (step.completed, локальный callback
// или синтетический таймаут из poll loop).
type Orchestrator struct {
	store      RunStore
	dispatcher Dispatcher
	notifier   Notifier
	plan       Plan

	conn *mq.Connection

	pollInterval time.Duration
	batchSize    int
	timeoutGrace time.Duration

	// waiters — ожидающие завершения run (runID → каналы).
	waiters map[uuid.UUID][]chan struct{}
	mu      sync.Mutex

	logger  *slog.Logger
	stopped chan struct{}
	once    sync.Once
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store      RunStore
	Dispatcher Dispatcher
	Notifier   Notifier // опционально
	Plan       Plan

	// Conn — соединение RabbitMQ для consumers; nil в локальном режиме.
	Conn *mq.Connection

	PollInterval time.Duration // default: 10s
	BatchSize    int           // default: 50
	TimeoutGrace time.Duration // запас сверх таймаута шага (default: 30s)

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	grace := cfg.TimeoutGrace
	if grace <= 0 {
		grace = defaultTimeoutGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:        cfg.Store,
		dispatcher:   cfg.Dispatcher,
		notifier:     cfg.Notifier,
		plan:         cfg.Plan,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		timeoutGrace: grace,
		waiters:      make(map[uuid.UUID][]chan struct{}),
		logger:       logger,
		stopped:      make(chan struct{}),
	}
}

// Serve запускает фоновые циклы и блокируется до отмены ctx.
//
// Запускает:
//   - Consumer runs.pending и steps.completed (если задан Conn)
//   - Poll loop: подхват START runs и таймауты шагов
func (o *Orchestrator) Serve(ctx context.Context) error {
	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"timeout_grace", o.timeoutGrace,
		"consumers", o.conn != nil,
	)

	var wg sync.WaitGroup

	if o.conn != nil {
		consumers := []*mq.Consumer{
			mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
				Queue:    mq.QueueRunsPending,
				Handler:  o.handleRunPending,
				Prefetch: 10,
			}),
			mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
				Queue:    mq.QueueStepsCompleted,
				Handler:  o.handleStepCompleted,
				Prefetch: 10,
			}),
		}
		for _, c := range consumers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer stopped", "error", err)
				}
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	<-ctx.Done()
	wg.Wait()

	o.once.Do(func() { close(o.stopped) })
	o.logger.Info("orchestrator stopped")
	return nil
}

// pollLoop — fallback для потерянных событий.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем то, что накопилось пока сервис был выключен
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл: стартует START runs и закрывает просроченные шаги.
func (o *Orchestrator) poll(ctx context.Context) {
	pending, err := o.store.ListByState(ctx, domain.RunStateStart, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list pending runs", "error", err)
	}
	for i := range pending {
		if err := o.Begin(ctx, pending[i].ID); err != nil {
			o.logger.Error("failed to begin run from poll", "run_id", pending[i].ID, "error", err)
		}
	}

	o.SweepTimeouts(ctx, time.Now())
}

// SweepTimeouts переводит в FAILED runs, чей шаг просрочен на момент now.
//
// Воркер сам ограничивает шаг по времени; здесь подстраховка на случай,
// когда результат не пришёл вообще. Учитывается TimeoutGrace.
func (o *Orchestrator) SweepTimeouts(ctx context.Context, now time.Time) {
	expired, err := o.store.ListExpired(ctx, now.Add(-o.timeoutGrace), o.batchSize)
	if err != nil {
		o.logger.Error("failed to list expired runs", "error", err)
		return
	}

	for i := range expired {
		run := &expired[i]
		if run.CurrentInvocation == nil {
			continue
		}

		o.logger.Warn("step deadline exceeded",
			"run_id", run.ID,
			"step", run.CurrentStep,
			"deadline", run.StepDeadline,
		)

		result := &domain.StepResult{
			InvocationID: *run.CurrentInvocation,
			RunID:        run.ID,
			Step:         run.CurrentStep,
			ErrorCode:    domain.ErrorCodeStepTimeout,
			Error:        "step did not report a result before its deadline",
			FinishedAt:   now,
		}
		if err := o.HandleStepResult(ctx, result); err != nil {
			o.logger.Error("failed to time out run", "run_id", run.ID, "error", err)
		}
	}
}

// Get возвращает текущее состояние run.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return o.load(ctx, id)
}
