package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден в хранилище.
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidTransition — переход отсутствует в таблице переходов.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnexpectedStep — результат относится к шагу, которого run не ждёт.
	ErrUnexpectedStep = errors.New("unexpected step result")

	// ErrStepNotConfigured — для шага не задана цель вызова.
	ErrStepNotConfigured = errors.New("step not configured")

	// ErrAsyncBackup — бэкап настроен в async режиме. Миграция не может
	// стартовать, пока бэкап не сообщил терминальный статус.
	ErrAsyncBackup = errors.New("backup step must be invoked in sync mode")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
