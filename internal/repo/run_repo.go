package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/metamigrate/internal/domain"
)

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

const runColumns = `
	id, state, input, idempotency_key, current_step, current_invocation,
	step_deadline, steps, failed_step, error_code, error,
	created_at, started_at, finished_at
`

// RunRepo — репозиторий workflow runs в Postgres.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
//
// Если idempotency key уже занят, возвращает ErrAlreadyExists.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	stepsJSON, err := marshalSteps(run.Steps)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_runs (id, state, input, idempotency_key, steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.State,
		inputJSON,
		nullString(run.IdempotencyKey),
		stepsJSON,
		run.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey возвращает run по ключу идемпотентности.
func (r *RunRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE idempotency_key = $1`
	return scanRun(r.pool.QueryRow(ctx, query, key))
}

// LatestByKeyPrefix возвращает самый новый run, чей idempotency key
// начинается с prefix.
func (r *RunRepo) LatestByKeyPrefix(ctx context.Context, prefix string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs
		WHERE starts_with(idempotency_key, $1)
		ORDER BY created_at DESC
		LIMIT 1`
	return scanRun(r.pool.QueryRow(ctx, query, prefix))
}

// List возвращает список runs с фильтрацией.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	filter = filter.normalize()
	query := `SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE ($1::text IS NULL OR state = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.State)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// ListByState возвращает самые старые runs в указанном состоянии.
func (r *RunRepo) ListByState(ctx context.Context, state domain.RunState, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE state = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by state: %w", err)
	}
	return collectRuns(rows)
}

// ListExpired возвращает runs, чей текущий шаг просрочен к моменту before.
func (r *RunRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE state IN ('BACKING_UP', 'MIGRATING')
		  AND step_deadline IS NOT NULL
		  AND step_deadline < $1
		ORDER BY step_deadline ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired runs: %w", err)
	}
	return collectRuns(rows)
}

// Transition сохраняет новое состояние run, если в БД он всё ещё
// в состоянии from и ждёт вызов invocation.
//
// Если run изменил кто-то другой, возвращает ErrInvalidState.
func (r *RunRepo) Transition(ctx context.Context, run *domain.Run, from domain.RunState, invocation *uuid.UUID) error {
	stepsJSON, err := marshalSteps(run.Steps)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_runs
		SET state = $4, current_step = $5, current_invocation = $6, step_deadline = $7,
		    steps = $8, failed_step = $9, error_code = $10, error = $11,
		    started_at = $12, finished_at = $13
		WHERE id = $1 AND state = $2 AND current_invocation IS NOT DISTINCT FROM $3
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		from,
		invocation,
		run.State,
		nullString(string(run.CurrentStep)),
		run.CurrentInvocation,
		run.StepDeadline,
		stepsJSON,
		nullString(string(run.FailedStep)),
		nullString(string(run.ErrorCode)),
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workflow_runs WHERE id = $1)`, run.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	State  domain.RunState
	Limit  int
	Offset int
}

func (f RunFilter) normalize() RunFilter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// scanRun сканирует одну строку в Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var (
		run            domain.Run
		inputJSON      []byte
		stepsJSON      []byte
		idempotencyKey *string
		currentStep    *string
		failedStep     *string
		errorCode      *string
		runError       *string
	)

	err := row.Scan(
		&run.ID,
		&run.State,
		&inputJSON,
		&idempotencyKey,
		&currentStep,
		&run.CurrentInvocation,
		&run.StepDeadline,
		&stepsJSON,
		&failedStep,
		&errorCode,
		&runError,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if inputJSON != nil {
		if err := json.Unmarshal(inputJSON, &run.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &run.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}

	run.IdempotencyKey = deref(idempotencyKey)
	run.CurrentStep = domain.StepName(deref(currentStep))
	run.FailedStep = domain.StepName(deref(failedStep))
	run.ErrorCode = domain.ErrorCode(deref(errorCode))
	run.Error = deref(runError)

	return &run, nil
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func marshalSteps(steps []domain.StepResult) ([]byte, error) {
	if steps == nil {
		steps = []domain.StepResult{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	return data, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
