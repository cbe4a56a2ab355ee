package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownTargetKind — нет executor'а для вида цели.
	ErrUnknownTargetKind = errors.New("unknown target kind")

	// ErrInvoke — вызов шага не удалось отправить.
	// Executor'ы оборачивают им ошибки до того, как шаг реально стартовал.
	ErrInvoke = errors.New("invoke failed")

	// ErrNoSink — локальному dispatcher'у некуда отдавать результаты.
	ErrNoSink = errors.New("result sink not attached")
)
