package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
)

// Start создаёт новый run и выдаёт вызов бэкапа.
//
// Не ждёт завершения workflow: возвращает ID сразу после того, как run
// сохранён. Каждый вызов создаёт независимый run.
func (o *Orchestrator) Start(ctx context.Context, input domain.RunInput) (uuid.UUID, error) {
	if input.Database == "" {
		input.Database = o.plan.Database
	}

	run := domain.NewRun(input)
	if err := o.store.Create(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}
	telemetry.RunsStarted.WithLabelValues(sourceLabel(input.Source)).Inc()

	o.logger.Info("run created", "run_id", run.ID, "database", input.Database, "source", input.Source)

	// Run уже сохранён: если Begin не удался, его подхватит poll loop
	if err := o.Begin(ctx, run.ID); err != nil {
		o.logger.Warn("run created but not begun, leaving for poll", "run_id", run.ID, "error", err)
	}

	return run.ID, nil
}

// Begin переводит run из START в BACKING_UP и выдаёт вызов бэкапа.
//
// Идемпотентен: run, уже покинувший START, пропускается.
func (o *Orchestrator) Begin(ctx context.Context, runID uuid.UUID) error {
	run, err := o.load(ctx, runID)
	if err != nil {
		return err
	}
	if run.State != domain.RunStateStart {
		o.logger.Debug("run already begun, skipping", "run_id", runID, "state", run.State)
		return nil
	}

	to, err := Next(run.State, EventBegin)
	if err != nil {
		return err
	}

	return o.enter(ctx, run, to, nil)
}

// HandleStepResult применяет результат шага к run.
//
// Результат игнорируется, если run уже завершён или ждёт другой вызов
// (поздний ответ после таймаута, повторная доставка). Иначе применяется
// переход из таблицы и выполняется вход в новое состояние.
func (o *Orchestrator) HandleStepResult(ctx context.Context, result *domain.StepResult) error {
	log := telemetry.WithInvocation(o.logger, result.RunID.String(), result.InvocationID.String(), string(result.Step))

	run, err := o.load(ctx, result.RunID)
	if err != nil {
		return err
	}

	if run.IsFinished() {
		log.Info("ignoring result for finished run", "state", run.State)
		telemetry.ResultsIgnored.WithLabelValues("finished").Inc()
		return nil
	}
	if run.CurrentInvocation == nil || *run.CurrentInvocation != result.InvocationID {
		log.Info("ignoring stale result", "state", run.State)
		telemetry.ResultsIgnored.WithLabelValues("stale").Inc()
		return nil
	}
	if awaited, _ := AwaitedStep(run.State); awaited != result.Step {
		return fmt.Errorf("%w: run %s awaits %s, got %s", ErrUnexpectedStep, run.ID, awaited, result.Step)
	}

	if !result.Success && result.ErrorCode == "" {
		result.ErrorCode = domain.ErrorCodeStepFailed
	}

	event, err := resultEvent(result)
	if err != nil {
		return err
	}
	to, err := Next(run.State, event)
	if err != nil {
		return err
	}

	if result.Success {
		log.Info("step succeeded", "duration", result.Duration())
	} else {
		log.Warn("step failed", "error_code", result.ErrorCode, "error", result.Error)
	}

	expected := *run.CurrentInvocation
	run.RecordResult(result)
	return o.enter(ctx, run, to, &expected)
}

// enter переводит run в состояние to и выполняет действие входа.
//
// expected — вызов, который run ждал до перехода (nil для START).
func (o *Orchestrator) enter(ctx context.Context, run *domain.Run, to domain.RunState, expected *uuid.UUID) error {
	from := run.State

	var inv *domain.StepInvocation
	switch to {
	case domain.RunStateSucceeded:
		run.MarkSucceeded()
	case domain.RunStateFailed:
		last := run.Steps[len(run.Steps)-1]
		run.MarkFailed(last.Step, last.ErrorCode, last.Error)
	default:
		step, ok := EntryStep(to)
		if !ok {
			return fmt.Errorf("%w: no entry step for %s", ErrInvalidTransition, to)
		}
		var err error
		inv, err = o.plan.invocation(run, step)
		if err != nil {
			return o.failBeforeDispatch(ctx, run, to, expected, step, err)
		}
		run.State = to
		run.MarkStepIssued(inv)
	}

	applied, err := o.persist(ctx, run, from, expected)
	if err != nil || !applied {
		return err
	}

	if inv != nil {
		o.dispatch(ctx, run, inv)
	}
	return nil
}

// failBeforeDispatch обрабатывает вход в состояние to, когда вызов шага
// нельзя даже собрать: шаг сразу считается упавшим с INVOKE_ERROR,
// и run сохраняется уже в FAILED.
func (o *Orchestrator) failBeforeDispatch(ctx context.Context, run *domain.Run, to domain.RunState, expected *uuid.UUID, step domain.StepName, cause error) error {
	from := run.State

	event := EventBackupFailed
	if step == domain.StepMigrate {
		event = EventMigrateFailed
	}
	if _, err := Next(to, event); err != nil {
		return err
	}

	now := time.Now()
	run.RecordResult(&domain.StepResult{
		RunID:      run.ID,
		Step:       step,
		ErrorCode:  domain.ErrorCodeInvokeError,
		Error:      cause.Error(),
		StartedAt:  now,
		FinishedAt: now,
	})
	run.MarkFailed(step, domain.ErrorCodeInvokeError, cause.Error())
	_, err := o.persist(ctx, run, from, expected)
	return err
}

// dispatch отправляет вызов исполнителю.
// Ошибка доставки превращается в результат INVOKE_ERROR для этого вызова.
func (o *Orchestrator) dispatch(ctx context.Context, run *domain.Run, inv *domain.StepInvocation) {
	log := telemetry.WithInvocation(o.logger, run.ID.String(), inv.ID.String(), string(inv.Step))

	telemetry.StepsInvoked.WithLabelValues(string(inv.Step), string(inv.Target.Kind)).Inc()
	err := o.dispatcher.Dispatch(ctx, inv)
	if err == nil {
		log.Info("step dispatched", "target_kind", inv.Target.Kind, "target", inv.Target.Name, "timeout_sec", inv.TimeoutSec)
		return
	}

	log.Error("failed to dispatch step", "error", err)
	now := time.Now()
	failure := &domain.StepResult{
		InvocationID: inv.ID,
		RunID:        inv.RunID,
		Step:         inv.Step,
		ErrorCode:    domain.ErrorCodeInvokeError,
		Error:        err.Error(),
		StartedAt:    now,
		FinishedAt:   now,
	}
	if err := o.HandleStepResult(context.WithoutCancel(ctx), failure); err != nil {
		log.Error("failed to record dispatch failure", "error", err)
	}
}

// persist сохраняет переход и оповещает наблюдателей.
//
// applied == false, если run за это время перевёл кто-то другой
// (poll loop, sweep, второй оркестратор). Тогда переход не сохранён,
// и вызывающий не должен ни выдавать шаг, ни оповещать наблюдателей.
func (o *Orchestrator) persist(ctx context.Context, run *domain.Run, from domain.RunState, expected *uuid.UUID) (applied bool, err error) {
	if err := o.store.Transition(ctx, run, from, expected); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			o.logger.Info("transition lost to a concurrent update", "run_id", run.ID, "from", from, "to", run.State)
			telemetry.ResultsIgnored.WithLabelValues("race").Inc()
			return false, nil
		}
		if errors.Is(err, repo.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
		}
		return false, fmt.Errorf("persist transition: %w", err)
	}

	o.logger.Info("run transitioned", "run_id", run.ID, "from", from, "to", run.State)

	if run.IsFinished() {
		telemetry.RunsFinished.WithLabelValues(string(run.State), string(run.FailedStep), string(run.ErrorCode)).Inc()
		if run.State == domain.RunStateSucceeded {
			o.logger.Info("run succeeded", "run_id", run.ID, "duration", run.Duration())
		} else {
			o.logger.Warn("run failed",
				"run_id", run.ID,
				"failed_step", run.FailedStep,
				"error_code", run.ErrorCode,
				"error", run.Error,
			)
		}
		o.wake(run.ID)
	}

	if o.notifier != nil {
		if err := o.notifier.RunStateChanged(ctx, run, from); err != nil {
			o.logger.Warn("failed to publish state change", "run_id", run.ID, "error", err)
		}
	}
	return true, nil
}

// load читает run и переводит ErrNotFound в ErrRunNotFound.
func (o *Orchestrator) load(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := o.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
