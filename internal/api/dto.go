package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
)

// StartRunRequest — запрос на запуск workflow. Пустое тело допустимо.
type StartRunRequest struct {
	Database    string `json:"database,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID           uuid.UUID            `json:"id"`
	State        domain.RunState      `json:"state"`
	DisplayName  string               `json:"display_name"`
	Database     string               `json:"database,omitempty"`
	Source       string               `json:"source,omitempty"`
	RequestedBy  string               `json:"requested_by,omitempty"`
	CurrentStep  domain.StepName      `json:"current_step,omitempty"`
	StepDeadline *time.Time           `json:"step_deadline,omitempty"`
	Steps        []StepResultResponse `json:"steps"`
	FailedStep   domain.StepName      `json:"failed_step,omitempty"`
	ErrorCode    domain.ErrorCode     `json:"error_code,omitempty"`
	Error        string               `json:"error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
	DurationMs   int64                `json:"duration_ms,omitempty"`
}

// StepResultResponse — результат одного шага.
type StepResultResponse struct {
	Step         domain.StepName  `json:"step"`
	InvocationID uuid.UUID        `json:"invocation_id"`
	Success      bool             `json:"success"`
	Output       json.RawMessage  `json:"output,omitempty"`
	ErrorCode    domain.ErrorCode `json:"error_code,omitempty"`
	Error        string           `json:"error,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	DurationMs   int64            `json:"duration_ms"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	steps := make([]StepResultResponse, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = StepResultResponse{
			Step:         s.Step,
			InvocationID: s.InvocationID,
			Success:      s.Success,
			Output:       s.Output,
			ErrorCode:    s.ErrorCode,
			Error:        s.Error,
			StartedAt:    s.StartedAt,
			FinishedAt:   s.FinishedAt,
			DurationMs:   s.Duration().Milliseconds(),
		}
	}

	return RunResponse{
		ID:           r.ID,
		State:        r.State,
		DisplayName:  r.State.DisplayName(),
		Database:     r.Input.Database,
		Source:       r.Input.Source,
		RequestedBy:  r.Input.RequestedBy,
		CurrentStep:  r.CurrentStep,
		StepDeadline: r.StepDeadline,
		Steps:        steps,
		FailedStep:   r.FailedStep,
		ErrorCode:    r.ErrorCode,
		Error:        r.Error,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		DurationMs:   r.Duration().Milliseconds(),
	}
}
