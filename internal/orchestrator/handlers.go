package orchestrator

import (
	"context"
	"errors"

	"github.com/shaiso/metamigrate/internal/mq"
)

// handleRunPending стартует run, созданный другим процессом.
func (o *Orchestrator) handleRunPending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(err)
	}

	o.logger.Debug("received run.pending", "run_id", payload.RunID)

	if err := o.Begin(ctx, payload.RunID); err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return mq.Permanent(err)
		}
		return err
	}
	return nil
}

// handleStepCompleted применяет результат шага от воркера.
func (o *Orchestrator) handleStepCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StepCompletedPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(err)
	}

	result := &payload.Result
	o.logger.Debug("received step.completed",
		"run_id", result.RunID,
		"invocation_id", result.InvocationID,
		"step", result.Step,
		"success", result.Success,
	)

	if err := o.HandleStepResult(ctx, result); err != nil {
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrUnexpectedStep) || errors.Is(err, ErrInvalidTransition) {
			return mq.Permanent(err)
		}
		return err
	}
	return nil
}
