package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shaiso/metamigrate/internal/domain"
)

// ResultSink принимает результаты шагов. Реализуется оркестратором.
type ResultSink interface {
	HandleStepResult(ctx context.Context, result *domain.StepResult) error
}

// Local — dispatcher, выполняющий шаги в том же процессе.
//
// Каждый вызов выполняется в отдельной горутине, результат сразу
// передаётся в ResultSink. Используется в однопроцессном режиме и тестах.
type Local struct {
	runner *Runner
	logger *slog.Logger

	mu   sync.RWMutex
	sink ResultSink

	wg sync.WaitGroup
}

// NewLocal создаёт локальный dispatcher.
func NewLocal(registry *Registry, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		runner: NewRunner(registry, logger),
		logger: logger,
	}
}

// Attach задаёт получателя результатов.
// Оркестратор создаётся после dispatcher'а, поэтому связь устанавливается отдельно.
func (l *Local) Attach(sink ResultSink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// Dispatch запускает шаг и сразу возвращается.
func (l *Local) Dispatch(ctx context.Context, inv *domain.StepInvocation) error {
	l.mu.RLock()
	sink := l.sink
	l.mu.RUnlock()
	if sink == nil {
		return ErrNoSink
	}

	// Шаг переживает запрос, который его породил
	ctx = context.WithoutCancel(ctx)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		result := l.runner.Run(ctx, inv)
		if err := sink.HandleStepResult(ctx, result); err != nil {
			l.logger.Error("failed to hand over step result",
				"run_id", inv.RunID,
				"invocation_id", inv.ID,
				"error", err,
			)
		}
	}()
	return nil
}

// Wait ждёт завершения всех запущенных шагов.
func (l *Local) Wait() {
	l.wg.Wait()
}
