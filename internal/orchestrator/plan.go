package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
)

// StepSpec — как вызывать один шаг.
type StepSpec struct {
	Target  domain.StepTarget
	Mode    domain.InvocationMode
	Timeout time.Duration
}

// Plan — настройки обоих шагов workflow.
type Plan struct {
	// Database — база по умолчанию, если trigger её не указал.
	Database string

	Backup  StepSpec
	Migrate StepSpec
}

// spec возвращает StepSpec для шага.
func (p *Plan) spec(step domain.StepName) (StepSpec, error) {
	var s StepSpec
	switch step {
	case domain.StepBackup:
		s = p.Backup
	case domain.StepMigrate:
		s = p.Migrate
	default:
		return StepSpec{}, fmt.Errorf("%w: %q", ErrUnexpectedStep, step)
	}
	if s.Target.Kind == "" || s.Target.Name == "" {
		return StepSpec{}, fmt.Errorf("%w: %s", ErrStepNotConfigured, step)
	}
	if s.Mode == "" {
		s.Mode = domain.ModeSync
	}
	if step == domain.StepBackup && s.Mode != domain.ModeSync {
		return StepSpec{}, ErrAsyncBackup
	}
	return s, nil
}

// BackupInput — вход шага бэкапа: выгрузка дампа указанной базы.
func BackupInput(database string) map[string]any {
	return map[string]any{
		"operation": "upload",
		"flags":     []string{"--dump-db"},
		"database":  database,
	}
}

// MigrateInput — вход шага миграции: пустой объект.
func MigrateInput() map[string]any {
	return map[string]any{}
}

// invocation создаёт вызов шага для run.
func (p *Plan) invocation(run *domain.Run, step domain.StepName) (*domain.StepInvocation, error) {
	spec, err := p.spec(step)
	if err != nil {
		return nil, err
	}

	var input map[string]any
	switch step {
	case domain.StepBackup:
		database := run.Input.Database
		if database == "" {
			database = p.Database
		}
		input = BackupInput(database)
	case domain.StepMigrate:
		input = MigrateInput()
	}

	return &domain.StepInvocation{
		ID:         uuid.New(),
		RunID:      run.ID,
		Step:       step,
		Target:     spec.Target,
		Input:      input,
		Mode:       spec.Mode,
		TimeoutSec: int(spec.Timeout / time.Second),
		IssuedAt:   time.Now(),
	}, nil
}
