package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunInput — параметры запуска workflow.
type RunInput struct {
	// Database — имя базы, которую бэкапим перед миграцией.
	Database string `json:"database"`

	// Source — кто инициировал запуск: "api", "cli", "lambda", "cloudformation", "schedule".
	Source string `json:"source,omitempty"`

	// RequestedBy — произвольный идентификатор инициатора.
	RequestedBy string `json:"requested_by,omitempty"`
}

// Run — экземпляр workflow "бэкап, затем миграция".
//
// Run создаётся на каждый trigger и никогда не переиспользуется.
// Изменяется только Orchestrator'ом; после SUCCEEDED или FAILED неизменен.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// State — текущее состояние.
	State RunState `json:"state"`

	// Input — параметры запуска.
	Input RunInput `json:"input"`

	// IdempotencyKey — ключ для запусков по расписанию: "schedule_{due_unix}".
	// Ручные запуски его не задают.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CurrentStep — шаг, результат которого ожидается.
	CurrentStep StepName `json:"current_step,omitempty"`

	// CurrentInvocation — ID ожидаемого вызова.
	// Результаты с другим ID отбрасываются.
	CurrentInvocation *uuid.UUID `json:"current_invocation,omitempty"`

	// StepDeadline — после этого момента шаг считается просроченным.
	StepDeadline *time.Time `json:"step_deadline,omitempty"`

	// Steps — результаты шагов в порядке выполнения.
	Steps []StepResult `json:"steps,omitempty"`

	// FailedStep — шаг, на котором run упал.
	FailedStep StepName `json:"failed_step,omitempty"`

	// ErrorCode — код ошибки, если run завершился с FAILED.
	ErrorCode ErrorCode `json:"error_code,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRun создаёт run в состоянии START.
func NewRun(input RunInput) *Run {
	return &Run{
		ID:        uuid.New(),
		State:     RunStateStart,
		Input:     input,
		CreatedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run завершён (в любом состоянии).
func (r *Run) IsFinished() bool {
	return r.State.IsTerminal()
}

// Result возвращает результат шага, если он уже записан.
func (r *Run) Result(step StepName) (*StepResult, bool) {
	for i := range r.Steps {
		if r.Steps[i].Step == step {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Awaits проверяет, ждёт ли run результат именно этого вызова.
func (r *Run) Awaits(result *StepResult) bool {
	if r.CurrentInvocation == nil {
		return false
	}
	return *r.CurrentInvocation == result.InvocationID && r.CurrentStep == result.Step
}

// MarkStepIssued фиксирует выданный вызов шага.
func (r *Run) MarkStepIssued(inv *StepInvocation) {
	id := inv.ID
	deadline := inv.Deadline()
	r.CurrentStep = inv.Step
	r.CurrentInvocation = &id
	r.StepDeadline = &deadline
	if r.StartedAt == nil {
		now := time.Now()
		r.StartedAt = &now
	}
}

// RecordResult добавляет результат шага и сбрасывает ожидание.
func (r *Run) RecordResult(result *StepResult) {
	r.Steps = append(r.Steps, *result)
	r.CurrentStep = ""
	r.CurrentInvocation = nil
	r.StepDeadline = nil
}

// MarkSucceeded переводит run в состояние SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.State = RunStateSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в состояние FAILED с ошибкой.
func (r *Run) MarkFailed(step StepName, code ErrorCode, err string) {
	now := time.Now()
	r.State = RunStateFailed
	r.FinishedAt = &now
	r.FailedStep = step
	r.ErrorCode = code
	r.Error = err
	r.CurrentStep = ""
	r.CurrentInvocation = nil
	r.StepDeadline = nil
}
