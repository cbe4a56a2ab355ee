package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shaiso/metamigrate/internal/domain"
)

// Executor вызывает внешний шаг одного вида (sfn, lambda, http).
//
// ctx несёт таймаут шага. Логический неуспех шага возвращается через
// Outcome.Error; error означает, что шаг не удалось вызвать или
// дождаться (включая истечение ctx).
type Executor interface {
	Execute(ctx context.Context, inv *domain.StepInvocation) (*Outcome, error)
}

// Idempotent — executor, повторный вызов которого с тем же invocation
// не запускает шаг второй раз.
type Idempotent interface {
	Idempotent() bool
}

// Outcome — что сообщил внешний шаг.
type Outcome struct {
	// Output — ответ шага как есть.
	Output json.RawMessage

	// Error — сообщение шага о неуспехе, без изменений.
	Error string
}

// Registry — executor'ы по виду цели.
type Registry struct {
	executors map[domain.TargetKind]Executor
}

// NewDefaultRegistry создаёт реестр со всеми видами целей:
// sfn и lambda через клиенты AWS, http через httpClient.
func NewDefaultRegistry(sfnClient SFNAPI, lambdaClient LambdaAPI, httpClient *http.Client, sfnPollInterval time.Duration) *Registry {
	r := NewRegistry()
	r.Register(domain.TargetStateMachine, NewStateMachineExecutor(sfnClient, sfnPollInterval))
	r.Register(domain.TargetLambda, NewLambdaExecutor(lambdaClient))
	r.Register(domain.TargetHTTP, NewHTTPExecutor(httpClient))
	return r
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.TargetKind]Executor)}
}

// Register добавляет executor для вида цели.
func (r *Registry) Register(kind domain.TargetKind, executor Executor) {
	r.executors[kind] = executor
}

// Get возвращает executor для вида цели.
func (r *Registry) Get(kind domain.TargetKind) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTargetKind, kind)
	}
	return executor, nil
}

// Kinds возвращает зарегистрированные виды целей.
func (r *Registry) Kinds() []domain.TargetKind {
	kinds := make([]domain.TargetKind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	return kinds
}
