package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepName — имя шага workflow.
type StepName string

const (
	// StepBackup — бэкап базы metadata manager.
	StepBackup StepName = "backup"

	// StepMigrate — применение миграций схемы.
	StepMigrate StepName = "migrate"
)

// TargetKind — способ вызова внешнего шага.
type TargetKind string

const (
	// TargetStateMachine — AWS Step Functions execution.
	TargetStateMachine TargetKind = "sfn"

	// TargetLambda — прямой вызов AWS Lambda.
	TargetLambda TargetKind = "lambda"

	// TargetHTTP — JSON POST на HTTP endpoint (локальная разработка).
	TargetHTTP TargetKind = "http"
)

// InvocationMode — режим вызова шага.
type InvocationMode string

const (
	// ModeSync — ждём результат шага.
	ModeSync InvocationMode = "sync"

	// ModeAsync — fire-and-forget: успехом считается принятие вызова.
	ModeAsync InvocationMode = "async"
)

// StepTarget — куда отправляется вызов шага.
//
// Name зависит от Kind: ARN state machine, имя/ARN функции или URL.
type StepTarget struct {
	Kind TargetKind `json:"kind"`
	Name string     `json:"name"`
}

// StepInvocation — один вызов внешнего шага.
//
// Создаётся Orchestrator'ом при входе в состояние, передаётся Worker'у.
type StepInvocation struct {
	// ID — уникальный идентификатор вызова.
	// Используется для отбрасывания устаревших результатов.
	ID uuid.UUID `json:"id"`

	// RunID — run, к которому относится вызов.
	RunID uuid.UUID `json:"run_id"`

	// Step — какой шаг вызывается.
	Step StepName `json:"step"`

	// Target — куда отправляется вызов.
	Target StepTarget `json:"target"`

	// Input — JSON-объект, передаваемый шагу.
	Input map[string]any `json:"input"`

	// Mode — sync или async.
	Mode InvocationMode `json:"mode"`

	// TimeoutSec — ограничение времени на шаг.
	TimeoutSec int `json:"timeout_sec"`

	// IssuedAt — время создания вызова.
	IssuedAt time.Time `json:"issued_at"`
}

// Timeout возвращает таймаут шага как time.Duration.
func (i *StepInvocation) Timeout() time.Duration {
	return time.Duration(i.TimeoutSec) * time.Second
}

// Deadline возвращает момент, после которого шаг считается просроченным.
func (i *StepInvocation) Deadline() time.Time {
	return i.IssuedAt.Add(i.Timeout())
}

// StepResult — итог выполнения шага.
type StepResult struct {
	InvocationID uuid.UUID       `json:"invocation_id"`
	RunID        uuid.UUID       `json:"run_id"`
	Step         StepName        `json:"step"`
	Success      bool            `json:"success"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorCode    ErrorCode       `json:"error_code,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Duration возвращает продолжительность выполнения шага.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome возвращает метку результата для метрик и логов.
func (r *StepResult) Outcome() string {
	if r.Success {
		return "success"
	}
	if r.ErrorCode == "" {
		return string(ErrorCodeStepFailed)
	}
	return string(r.ErrorCode)
}

// NewSuccess создаёт успешный результат для вызова.
func NewSuccess(inv *StepInvocation, output json.RawMessage, startedAt time.Time) *StepResult {
	return &StepResult{
		InvocationID: inv.ID,
		RunID:        inv.RunID,
		Step:         inv.Step,
		Success:      true,
		Output:       output,
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
	}
}

// NewFailure создаёт неуспешный результат для вызова.
func NewFailure(inv *StepInvocation, code ErrorCode, msg string, startedAt time.Time) *StepResult {
	return &StepResult{
		InvocationID: inv.ID,
		RunID:        inv.RunID,
		Step:         inv.Step,
		Success:      false,
		ErrorCode:    code,
		Error:        msg,
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
	}
}
