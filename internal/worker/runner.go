package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/telemetry"
)

// Runner выполняет вызов шага под таймаутом и превращает исход в StepResult.
//
// Используется и воркером из очереди, и локальным dispatcher'ом.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner создаёт Runner.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger}
}

// Run выполняет шаг. Всегда возвращает результат, никогда не паникует наружу.
//
// Таймаут шага — ctx.WithTimeout(inv.TimeoutSec). Отмена ctx не
// распространяется на внешнюю систему: запущенное выполнение продолжает
// жить, но его результат уже не будет принят.
func (r *Runner) Run(ctx context.Context, inv *domain.StepInvocation) (result *domain.StepResult) {
	log := telemetry.WithInvocation(r.logger, inv.RunID.String(), inv.ID.String(), string(inv.Step))
	startedAt := time.Now()

	defer func() {
		if p := recover(); p != nil {
			log.Error("executor panicked", "panic", p)
			result = domain.NewFailure(inv, domain.ErrorCodeStepFailed, fmt.Sprintf("executor panic: %v", p), startedAt)
		}
		telemetry.StepDuration.WithLabelValues(string(inv.Step), result.Outcome()).Observe(result.Duration().Seconds())
	}()

	executor, err := r.registry.Get(inv.Target.Kind)
	if err != nil {
		log.Error("no executor for target", "target_kind", inv.Target.Kind)
		return domain.NewFailure(inv, domain.ErrorCodeInvokeError, err.Error(), startedAt)
	}

	if inv.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout())
		defer cancel()
	}

	inflight := telemetry.StepsInFlight.WithLabelValues(string(inv.Step))
	inflight.Inc()
	defer inflight.Dec()

	log.Info("step started", "target_kind", inv.Target.Kind, "target", inv.Target.Name, "mode", inv.Mode)

	outcome, err := executor.Execute(ctx, inv)
	if err == nil && outcome == nil {
		outcome = &Outcome{}
	}

	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Warn("step timed out", "timeout_sec", inv.TimeoutSec)
		return domain.NewFailure(inv, domain.ErrorCodeStepTimeout,
			fmt.Sprintf("step did not complete within %ds", inv.TimeoutSec), startedAt)

	case err != nil && errors.Is(err, ErrInvoke):
		log.Error("step invoke failed", "error", err)
		return domain.NewFailure(inv, domain.ErrorCodeInvokeError, err.Error(), startedAt)

	case err != nil:
		log.Error("step execution failed", "error", err)
		return domain.NewFailure(inv, domain.ErrorCodeStepFailed, err.Error(), startedAt)

	case outcome.Error != "":
		log.Warn("step reported failure", "error", outcome.Error)
		res := domain.NewFailure(inv, domain.ErrorCodeStepFailed, outcome.Error, startedAt)
		res.Output = outcome.Output
		return res
	}

	res := domain.NewSuccess(inv, outcome.Output, startedAt)
	log.Info("step succeeded", "duration", res.Duration())
	return res
}
