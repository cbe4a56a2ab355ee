package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/mq"
)

const (
	defaultConcurrency    = 4
	defaultPublishRetries = 3
)

// ResultPublisher отправляет результат шага оркестратору.
type ResultPublisher interface {
	PublishStepCompleted(ctx context.Context, result *domain.StepResult) error
}

// Worker выполняет вызовы шагов из очереди steps.ready.
//
// Worker stateless: получает StepInvocation, вызывает внешний шаг через
// Runner и публикует StepResult в steps.completed. Повторов нет: каждый
// вызов выполняется не более одного раза.
type Worker struct {
	runner    *Runner
	registry  *Registry
	publisher ResultPublisher
	conn      *mq.Connection

	concurrency int
	logger      *slog.Logger

	// inflight — выполняющиеся шаги, для graceful shutdown.
	inflight sync.WaitGroup
}

// Config — конфигурация Worker.
type Config struct {
	Registry  *Registry
	Publisher ResultPublisher
	Conn      *mq.Connection

	// Concurrency — сколько шагов выполняется одновременно (default: 4).
	Concurrency int

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		runner:      NewRunner(cfg.Registry, logger),
		registry:    cfg.Registry,
		publisher:   cfg.Publisher,
		conn:        cfg.Conn,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Serve потребляет steps.ready до отмены ctx.
//
// Запускается Concurrency consumers с prefetch 1: шаги бывают длинными,
// и сообщение не должно ждать в буфере занятого consumer'а.
func (w *Worker) Serve(ctx context.Context) error {
	w.logger.Info("starting worker",
		"concurrency", w.concurrency,
		"target_kinds", w.registry.Kinds(),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		c := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueStepsReady,
			Handler:  w.handleStepReady,
			Prefetch: 1,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("step consumer stopped", "error", err)
			}
		}()
	}

	w.logger.Info("worker started")
	<-ctx.Done()
	wg.Wait()
	w.inflight.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Execute выполняет вызов и публикует результат.
//
// redelivered — сообщение уже доставлялось: предыдущий воркер мог успеть
// вызвать шаг. Неидемпотентный шаг в этом случае повторно не вызывается
// и сразу получает INVOKE_ERROR.
func (w *Worker) Execute(ctx context.Context, inv *domain.StepInvocation, redelivered bool) {
	w.inflight.Add(1)
	defer w.inflight.Done()

	var result *domain.StepResult
	if redelivered && !w.safeToRepeat(inv) {
		w.logger.Warn("refusing to re-invoke step after redelivery",
			"run_id", inv.RunID,
			"invocation_id", inv.ID,
			"step", inv.Step,
		)
		result = domain.NewFailure(inv, domain.ErrorCodeInvokeError,
			"step delivery was interrupted; not re-invoked", time.Now())
	} else {
		// Шаг не прерывается при остановке воркера: его таймаут задаёт Runner
		result = w.runner.Run(context.WithoutCancel(ctx), inv)
	}

	w.publish(ctx, result)
}

func (w *Worker) safeToRepeat(inv *domain.StepInvocation) bool {
	executor, err := w.registry.Get(inv.Target.Kind)
	if err != nil {
		return true
	}
	idem, ok := executor.(Idempotent)
	return ok && idem.Idempotent()
}

// publish отправляет результат с несколькими попытками.
//
// Если все попытки неудачны, результат теряется, и run будет закрыт
// оркестратором по дедлайну шага.
func (w *Worker) publish(ctx context.Context, result *domain.StepResult) {
	ctx = context.WithoutCancel(ctx)
	delay := 500 * time.Millisecond

	for attempt := 1; attempt <= defaultPublishRetries; attempt++ {
		err := w.publisher.PublishStepCompleted(ctx, result)
		if err == nil {
			return
		}
		w.logger.Warn("failed to publish step.completed",
			"run_id", result.RunID,
			"invocation_id", result.InvocationID,
			"attempt", attempt,
			"error", err,
		)
		time.Sleep(delay)
		delay *= 2
	}

	w.logger.Error("giving up on step.completed, run will time out",
		"run_id", result.RunID,
		"invocation_id", result.InvocationID,
		"step", result.Step,
		"success", result.Success,
	)
}
