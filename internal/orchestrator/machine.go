package orchestrator

import (
	"fmt"

	"github.com/shaiso/metamigrate/internal/domain"
)

// Event — событие, двигающее run по состояниям.
type Event string

const (
	EventBegin            Event = "begin"
	EventBackupSucceeded  Event = "backup_succeeded"
	EventBackupFailed     Event = "backup_failed"
	EventMigrateSucceeded Event = "migrate_succeeded"
	EventMigrateFailed    Event = "migrate_failed"
)

type transitionKey struct {
	from  domain.RunState
	event Event
}

// transitions — полная таблица переходов. Всё, чего здесь нет, запрещено.
var transitions = map[transitionKey]domain.RunState{
	{domain.RunStateStart, EventBegin}:                domain.RunStateBackingUp,
	{domain.RunStateBackingUp, EventBackupSucceeded}:  domain.RunStateMigrating,
	{domain.RunStateBackingUp, EventBackupFailed}:     domain.RunStateFailed,
	{domain.RunStateMigrating, EventMigrateSucceeded}: domain.RunStateSucceeded,
	{domain.RunStateMigrating, EventMigrateFailed}:    domain.RunStateFailed,
}

// entrySteps — шаг, вызываемый при входе в состояние.
//
// Шаги вызываются только здесь, поэтому миграция без успешного бэкапа
// в том же run невозможна.
var entrySteps = map[domain.RunState]domain.StepName{
	domain.RunStateBackingUp: domain.StepBackup,
	domain.RunStateMigrating: domain.StepMigrate,
}

// Next возвращает состояние после события или ErrInvalidTransition.
func Next(from domain.RunState, event Event) (domain.RunState, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, from, event)
	}
	return to, nil
}

// EntryStep возвращает шаг, который вызывается при входе в state.
func EntryStep(state domain.RunState) (domain.StepName, bool) {
	step, ok := entrySteps[state]
	return step, ok
}

// AwaitedStep возвращает шаг, результат которого ожидается в state.
func AwaitedStep(state domain.RunState) (domain.StepName, bool) {
	return EntryStep(state)
}

// resultEvent переводит результат шага в событие.
func resultEvent(result *domain.StepResult) (Event, error) {
	switch result.Step {
	case domain.StepBackup:
		if result.Success {
			return EventBackupSucceeded, nil
		}
		return EventBackupFailed, nil
	case domain.StepMigrate:
		if result.Success {
			return EventMigrateSucceeded, nil
		}
		return EventMigrateFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnexpectedStep, result.Step)
	}
}
