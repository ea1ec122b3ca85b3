package ports

import "context"

// ConditionEvaluator evaluates a transition condition against the variables
// visible from the leaving execution.
type ConditionEvaluator func(ctx context.Context, expr string, vars map[string]any) (bool, error)

// DelegateExecution is the handle passed to business callbacks.
// Writes are applied to the live execution and rolled back with the call on failure.
type DelegateExecution interface {
	ProcessID() string
	ProcessKey() string
	ExecutionID() string
	ActivityID() string

	// Variable resolves a name through the scope chain.
	Variable(name string) (any, bool)
	// Variables returns every visible variable, inner scopes shadowing outer ones.
	Variables() map[string]any
	// SetVariable writes to the nearest scope.
	SetVariable(name string, value any)
	// PropagateVariable writes to the named ancestor scope execution.
	PropagateVariable(scopeExecutionID, name string, value any) error
}

// DelegateInvoker runs the callbacks bound to service tasks and message throw events.
type DelegateInvoker interface {
	// InvokeServiceTask runs the service task bound to (processKey, activityID).
	// Returning a *domain.BusinessError routes the execution to a matching error boundary.
	InvokeServiceTask(ctx context.Context, processKey, activityID string, exec DelegateExecution) error

	// ThrowMessage hands a thrown message to its registered handler, if any.
	ThrowMessage(ctx context.Context, processKey, activityID string, exec DelegateExecution) error
}
