package domain

// RunState — состояние workflow run.
//
// Жизненный цикл:
//
//	START → BACKING_UP → MIGRATING → SUCCEEDED
//	             ↘            ↘
//	              FAILED       FAILED
//
// Других переходов нет: миграция возможна только после успешного бэкапа
// в рамках того же run.
type RunState string

const (
	// RunStateStart — run создан, ни один шаг ещё не вызван.
	RunStateStart RunState = "START"

	// RunStateBackingUp — вызван шаг бэкапа, ожидаем его результат.
	RunStateBackingUp RunState = "BACKING_UP"

	// RunStateMigrating — бэкап успешен, вызван шаг миграции.
	RunStateMigrating RunState = "MIGRATING"

	// RunStateSucceeded — оба шага завершились успешно.
	RunStateSucceeded RunState = "SUCCEEDED"

	// RunStateFailed — один из шагов завершился ошибкой или таймаутом.
	RunStateFailed RunState = "FAILED"
)

// IsTerminal возвращает true, если состояние финальное.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что строка — известное состояние.
func (s RunState) IsValid() bool {
	switch s {
	case RunStateStart, RunStateBackingUp, RunStateMigrating, RunStateSucceeded, RunStateFailed:
		return true
	default:
		return false
	}
}

// DisplayName возвращает человекочитаемое имя состояния.
func (s RunState) DisplayName() string {
	switch s {
	case RunStateStart:
		return "Start"
	case RunStateBackingUp:
		return "Backing Up"
	case RunStateMigrating:
		return "Migrating"
	case RunStateSucceeded:
		return "Succeeded"
	case RunStateFailed:
		return "Failed"
	default:
		return string(s)
	}
}

// String возвращает строковое представление RunState.
func (s RunState) String() string {
	return string(s)
}

// ErrorCode — код ошибки шага.
type ErrorCode string

const (
	// ErrorCodeStepFailed — внешний шаг сообщил о неуспехе или упал.
	ErrorCodeStepFailed ErrorCode = "STEP_FAILED"

	// ErrorCodeStepTimeout — шаг не завершился за отведённое время.
	ErrorCodeStepTimeout ErrorCode = "STEP_TIMEOUT"

	// ErrorCodeInvokeError — вызов шага не удалось даже отправить.
	ErrorCodeInvokeError ErrorCode = "INVOKE_ERROR"
)
