package worker

import (
	"context"

	"github.com/shaiso/metamigrate/internal/mq"
)

// handleStepReady выполняет вызов шага из steps.ready.
//
// Сообщение подтверждается после публикации результата. Ошибки шага
// не возвращаются как error: это данные для оркестратора, а не повод
// для redelivery.
func (w *Worker) handleStepReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StepReadyPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(err)
	}

	inv := &payload.Invocation
	w.logger.Debug("received step.ready",
		"run_id", inv.RunID,
		"invocation_id", inv.ID,
		"step", inv.Step,
		"redelivered", delivery.Raw.Redelivered,
	)

	w.Execute(ctx, inv, delivery.Raw.Redelivered)
	return nil
}
