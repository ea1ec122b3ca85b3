package ports

import (
	"context"

	"github.com/aretw0/bpmn/pkg/domain"
)

// Store persists process instances and their audit trail.
// Every engine call runs inside exactly one Update; returning an error from fn
// rolls back everything written through the Tx.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a transactional view of the store.
type Tx interface {
	// Instance loads a copy of the instance. Returns domain.ErrNotFound if missing.
	Instance(ctx context.Context, id string) (*domain.Instance, error)

	// SaveInstance persists the instance if its Revision matches the stored one
	// (0 for a new instance) and increments Revision on success.
	// A mismatch returns domain.ErrConflict.
	SaveInstance(ctx context.Context, inst *domain.Instance) error

	// FindExecutions returns matching executions ordered by creation.
	FindExecutions(ctx context.Context, q domain.ExecutionQuery) ([]domain.Execution, error)

	// FindSubscriptions returns matching subscriptions, oldest first.
	FindSubscriptions(ctx context.Context, q domain.SubscriptionQuery) ([]domain.EventSubscription, error)

	// FindTasks returns matching open user tasks, oldest first.
	FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.UserTask, error)

	HistoryStore
}

// HistoryStore holds the append-only audit tables.
// Put inserts a record or replaces the record with the same id.
type HistoryStore interface {
	HistoryExecution(ctx context.Context, id string) (*domain.HistoryExecution, error)
	PutHistoryExecution(ctx context.Context, rec *domain.HistoryExecution) error

	HistoryTask(ctx context.Context, id string) (*domain.HistoryTask, error)
	PutHistoryTask(ctx context.Context, rec *domain.HistoryTask) error
	FindHistoryTasks(ctx context.Context, processID string) ([]domain.HistoryTask, error)

	HistoryActivity(ctx context.Context, id string) (*domain.HistoryActivity, error)
	PutHistoryActivity(ctx context.Context, rec *domain.HistoryActivity) error

	// FindHistoryActivities returns matching rows ordered by start, then insertion.
	FindHistoryActivities(ctx context.Context, q domain.HistoryActivityQuery) ([]domain.HistoryActivity, error)
}

// Observer receives lifecycle events synchronously inside the transaction of
// the change. Returning an error rolls the call back.
type Observer interface {
	Observe(ctx context.Context, tx Tx, ev *domain.Event) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, tx Tx, ev *domain.Event) error

func (f ObserverFunc) Observe(ctx context.Context, tx Tx, ev *domain.Event) error {
	return f(ctx, tx, ev)
}
