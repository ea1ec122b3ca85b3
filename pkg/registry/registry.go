package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

// DelegateExecution is the execution handle passed to callbacks.
type DelegateExecution = ports.DelegateExecution

// ServiceTaskFunc implements a service task. Returning a *domain.BusinessError
// routes the execution to a matching error boundary event.
type ServiceTaskFunc func(ctx context.Context, exec DelegateExecution) error

// MessageHandlerFunc receives a message thrown by an intermediate throw event.
type MessageHandlerFunc func(ctx context.Context, exec DelegateExecution) error

type binding struct {
	processKey string
	activityID string
}

// Registry binds business callbacks to (process key, activity id) pairs.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[binding]ServiceTaskFunc
	messages map[binding]MessageHandlerFunc
}

var _ ports.DelegateInvoker = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		services: make(map[binding]ServiceTaskFunc),
		messages: make(map[binding]MessageHandlerFunc),
	}
}

// RegisterServiceTask binds fn to a service task. An existing binding is overwritten.
func (r *Registry) RegisterServiceTask(processKey, activityID string, fn ServiceTaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[binding{processKey, activityID}] = fn
}

// RegisterMessageHandler binds fn to a message throw event. An existing binding is overwritten.
func (r *Registry) RegisterMessageHandler(processKey, activityID string, fn MessageHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[binding{processKey, activityID}] = fn
}

// InvokeServiceTask runs the bound service task. A missing binding is an error.
func (r *Registry) InvokeServiceTask(ctx context.Context, processKey, activityID string, exec ports.DelegateExecution) error {
	r.mu.RLock()
	fn, ok := r.services[binding{processKey, activityID}]
	r.mu.RUnlock()

	if !ok {
		return domain.Errorf(domain.ErrNotFound, "no service task registered for %s/%s", processKey, activityID).
			At(exec.ProcessID(), exec.ExecutionID(), activityID)
	}
	return fn(ctx, exec)
}

// ThrowMessage runs the bound message handler. Throwing without a handler is a no-op.
func (r *Registry) ThrowMessage(ctx context.Context, processKey, activityID string, exec ports.DelegateExecution) error {
	r.mu.RLock()
	fn, ok := r.messages[binding{processKey, activityID}]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return fn(ctx, exec)
}

// ServiceTasks lists the bound service tasks as "key/activity", sorted.
func (r *Registry) ServiceTasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for b := range r.services {
		out = append(out, b.processKey+"/"+b.activityID)
	}
	sort.Strings(out)
	return out
}
