package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
)

// waitRecheck — как часто Wait перечитывает run из хранилища.
// Нужен, когда run ведёт другая реплика оркестратора.
const waitRecheck = 2 * time.Second

// Wait блокируется, пока run не станет SUCCEEDED или FAILED.
func (o *Orchestrator) Wait(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	ch := o.subscribe(id)
	defer o.unsubscribe(id, ch)

	ticker := time.NewTicker(waitRecheck)
	defer ticker.Stop()

	for {
		run, err := o.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.IsFinished() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.stopped:
			return nil, ErrOrchestratorStopped
		case <-ch:
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) subscribe(id uuid.UUID) chan struct{} {
	ch := make(chan struct{}, 1)
	o.mu.Lock()
	o.waiters[id] = append(o.waiters[id], ch)
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) unsubscribe(id uuid.UUID, ch chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()

	list := o.waiters[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(o.waiters, id)
	} else {
		o.waiters[id] = list
	}
}

// wake будит всех, кто ждёт run.
func (o *Orchestrator) wake(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, ch := range o.waiters[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
