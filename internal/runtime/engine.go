package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/bpmn/internal/logging"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/lock"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/aretw0/bpmn/pkg/registry"
	"github.com/google/uuid"
)

// DefaultMaxSteps bounds the number of node entries of a single call.
const DefaultMaxSteps = 10000

// SignalMode selects how an untargeted signal is correlated.
type SignalMode string

const (
	// SignalBroadcast resumes every matching subscription and starts every
	// definition with a matching signal start event.
	SignalBroadcast SignalMode = "broadcast"
	// SignalTargeted resumes only the oldest matching subscription.
	SignalTargeted SignalMode = "targeted"
)

// ParseSignalMode validates a configured signal mode.
func ParseSignalMode(s string) (SignalMode, error) {
	switch SignalMode(s) {
	case "", SignalBroadcast:
		return SignalBroadcast, nil
	case SignalTargeted:
		return SignalTargeted, nil
	}
	return "", fmt.Errorf("unknown signal mode %q", s)
}

// Engine drives process instances. Every call runs the lifecycle to the next
// stable point inside one store transaction, holding the instance lock.
type Engine struct {
	definitions ports.DefinitionProvider
	store       ports.Store
	locks       *lock.Manager
	evaluator   ports.ConditionEvaluator
	delegates   ports.DelegateInvoker
	observers   []ports.Observer
	notifiers   []ports.Observer
	logger      *slog.Logger
	clock       func() time.Time
	ids         func() string
	signalMode  SignalMode
	maxSteps    int
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver appends a lifecycle observer. Observers run in registration order.
func WithObserver(o ports.Observer) EngineOption {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithNotifier appends an observer that only sees committed calls. Events are
// buffered during the call and delivered after the transaction commits, in a
// read-only transaction over the committed state. Its errors are logged.
func WithNotifier(o ports.Observer) EngineOption {
	return func(e *Engine) {
		e.notifiers = append(e.notifiers, o)
	}
}

// WithEvaluator sets the gateway condition evaluator.
func WithEvaluator(eval ports.ConditionEvaluator) EngineOption {
	return func(e *Engine) {
		e.evaluator = eval
	}
}

// WithDelegates sets the service task and message handler invoker.
func WithDelegates(d ports.DelegateInvoker) EngineOption {
	return func(e *Engine) {
		e.delegates = d
	}
}

// WithLockManager replaces the per-instance lock manager.
func WithLockManager(m *lock.Manager) EngineOption {
	return func(e *Engine) {
		e.locks = m
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithIDGenerator overrides the identifier source.
func WithIDGenerator(ids func() string) EngineOption {
	return func(e *Engine) {
		e.ids = ids
	}
}

// WithSignalMode selects the correlation of untargeted signals.
func WithSignalMode(mode SignalMode) EngineOption {
	return func(e *Engine) {
		e.signalMode = mode
	}
}

// WithMaxSteps bounds the node entries of a single call.
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// NewEngine creates an engine over a definition provider and a store.
func NewEngine(definitions ports.DefinitionProvider, store ports.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		definitions: definitions,
		store:       store,
		logger:      logging.NewNop(),
		clock:       time.Now,
		ids:         uuid.NewString,
		signalMode:  SignalBroadcast,
		maxSteps:    DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locks == nil {
		e.locks = lock.NewManager(lock.WithLogger(e.logger))
	}
	if e.delegates == nil {
		e.delegates = registry.New()
	}
	if e.evaluator == nil {
		e.evaluator = func(ctx context.Context, expr string, vars map[string]any) (bool, error) {
			return false, fmt.Errorf("no condition evaluator configured for %q", expr)
		}
	}
	return e
}

// StartRequest selects the definition and start event of a new instance.
// DefinitionID wins over DefinitionKey; Revision 0 selects the latest revision.
type StartRequest struct {
	DefinitionID  string
	DefinitionKey string
	Revision      int
	Trigger       domain.Trigger
	Variables     map[string]any
	BusinessKey   string
}

// SignalRequest resumes one waiting execution.
// ActivityID, when set, must match the node the execution waits on.
type SignalRequest struct {
	ExecutionID string
	ActivityID  string
	Variables   map[string]any
}

// MessageRequest delivers a message, optionally to one execution.
type MessageRequest struct {
	Name        string
	ExecutionID string
	Variables   map[string]any
}

// BroadcastResult lists what an untargeted signal affected.
type BroadcastResult struct {
	Resumed []string `json:"resumed"`
	Started []string `json:"started"`
}

// errSkip marks a candidate that lost its subscription before we locked it.
var errSkip = errors.New("candidate no longer subscribed")

// StartInstance creates a process instance and runs it to its first wait state.
func (e *Engine) StartInstance(ctx context.Context, req StartRequest) (*domain.Instance, error) {
	def, err := e.resolveDefinition(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Trigger.Kind == "" {
		req.Trigger.Kind = domain.TriggerNone
	}
	start, err := def.FindStart(req.Trigger)
	if err != nil {
		return nil, err
	}

	id := e.ids()
	var inst *domain.Instance
	err = e.execute(ctx, []string{id}, func(op *operation) error {
		var err error
		inst, err = op.startInstance(def, start, id, req.BusinessKey, req.Variables)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Process instance started",
		"process_id", inst.ID,
		"definition", def.Key,
		"revision", def.Revision,
	)
	return inst.Clone(), nil
}

// Signal resumes a waiting execution, consuming every subscription it holds.
func (e *Engine) Signal(ctx context.Context, req SignalRequest) error {
	processID, err := e.processOfExecution(ctx, req.ExecutionID)
	if err != nil {
		return err
	}

	return e.execute(ctx, []string{processID}, func(op *operation) error {
		inst, err := op.load(processID)
		if err != nil {
			return err
		}
		exec := inst.Executions[req.ExecutionID]
		if exec.Ended() {
			return domain.Errorf(domain.ErrStaleExecution, "execution has ended").At(inst.ID, exec.ID, exec.ActivityID)
		}
		if req.ActivityID != "" && exec.ActivityID != req.ActivityID {
			return domain.Errorf(domain.ErrStaleExecution, "execution moved on from %q", req.ActivityID).At(inst.ID, exec.ID, exec.ActivityID)
		}
		return op.resume(inst, exec, req.Variables)
	})
}

// DeliverMessage correlates a message to a subscription and resumes its execution.
// Without a target, the oldest matching subscription wins.
func (e *Engine) DeliverMessage(ctx context.Context, req MessageRequest) error {
	if req.ExecutionID != "" {
		return e.deliverTargeted(ctx, domain.SubscriptionMessage, req.Name, req.ExecutionID, req.Variables)
	}
	_, err := e.deliverOldest(ctx, domain.SubscriptionMessage, req.Name, req.Variables)
	return err
}

// SignalEvent delivers a named signal to one execution.
func (e *Engine) SignalEvent(ctx context.Context, name, executionID string, vars map[string]any) error {
	return e.deliverTargeted(ctx, domain.SubscriptionSignal, name, executionID, vars)
}

// BroadcastSignal correlates an untargeted signal according to the signal mode.
func (e *Engine) BroadcastSignal(ctx context.Context, name string, vars map[string]any) (*BroadcastResult, error) {
	if e.signalMode == SignalTargeted {
		execID, err := e.deliverOldest(ctx, domain.SubscriptionSignal, name, vars)
		if err != nil {
			return nil, err
		}
		return &BroadcastResult{Resumed: []string{execID}}, nil
	}

	var (
		subs   []domain.EventSubscription
		starts []*domain.ProcessDefinition
	)
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		subs, err = tx.FindSubscriptions(ctx, domain.SubscriptionQuery{Kind: domain.SubscriptionSignal, Name: name})
		return err
	})
	if err != nil {
		return nil, err
	}
	defs, err := e.definitions.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if _, err := def.FindSignalStart(name); err == nil {
			starts = append(starts, def)
		}
	}

	keys := make([]string, 0, len(subs)+len(starts))
	for _, s := range subs {
		keys = append(keys, s.ProcessID)
	}
	newIDs := make([]string, len(starts))
	for i := range starts {
		newIDs[i] = e.ids()
		keys = append(keys, newIDs[i])
	}

	result := &BroadcastResult{}
	err = e.execute(ctx, keys, func(op *operation) error {
		result = &BroadcastResult{}
		for _, s := range subs {
			inst, err := op.load(s.ProcessID)
			if err != nil {
				return err
			}
			sub, ok := inst.Subscription(s.ID)
			if !ok {
				continue
			}
			execID := sub.ExecutionID
			if err := op.consume(inst, sub, vars); err != nil {
				return err
			}
			result.Resumed = append(result.Resumed, execID)
		}
		for i, def := range starts {
			start, _ := def.FindSignalStart(name)
			if _, err := op.startInstance(def, start, newIDs[i], "", vars); err != nil {
				return err
			}
			result.Started = append(result.Started, newIDs[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Signal broadcast",
		"signal", name,
		"resumed", len(result.Resumed),
		"started", len(result.Started),
	)
	return result, nil
}

// CompleteTask completes an open user task and resumes its execution.
func (e *Engine) CompleteTask(ctx context.Context, taskID string, vars map[string]any) error {
	var processID string
	err := e.store.View(ctx, func(tx ports.Tx) error {
		tasks, err := tx.FindTasks(ctx, domain.TaskQuery{TaskID: taskID})
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return domain.Errorf(domain.ErrNotFound, "task %q", taskID)
		}
		processID = tasks[0].ProcessID
		return nil
	})
	if err != nil {
		return err
	}

	return e.execute(ctx, []string{processID}, func(op *operation) error {
		inst, err := op.load(processID)
		if err != nil {
			return err
		}
		task, ok := inst.Task(taskID)
		if !ok {
			return domain.Errorf(domain.ErrNotFound, "task %q", taskID).At(inst.ID, "", "")
		}
		return op.resume(inst, inst.Executions[task.ExecutionID], vars)
	})
}

// Instance returns a snapshot of a process instance.
func (e *Engine) Instance(ctx context.Context, id string) (*domain.Instance, error) {
	var inst *domain.Instance
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		inst, err = tx.Instance(ctx, id)
		return err
	})
	return inst, err
}

// Executions lists executions matching the query.
func (e *Engine) Executions(ctx context.Context, q domain.ExecutionQuery) ([]domain.Execution, error) {
	var out []domain.Execution
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.FindExecutions(ctx, q)
		return err
	})
	return out, err
}

// Subscriptions lists event subscriptions matching the query.
func (e *Engine) Subscriptions(ctx context.Context, q domain.SubscriptionQuery) ([]domain.EventSubscription, error) {
	var out []domain.EventSubscription
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.FindSubscriptions(ctx, q)
		return err
	})
	return out, err
}

// Tasks lists open user tasks matching the query.
func (e *Engine) Tasks(ctx context.Context, q domain.TaskQuery) ([]domain.UserTask, error) {
	var out []domain.UserTask
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.FindTasks(ctx, q)
		return err
	})
	return out, err
}

// Variables returns the variables of the instance scope.
func (e *Engine) Variables(ctx context.Context, processID string) (map[string]any, error) {
	inst, err := e.Instance(ctx, processID)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]any, len(inst.Variables[inst.ID]))
	for k, v := range inst.Variables[inst.ID] {
		vars[k] = v
	}
	return vars, nil
}

// ExecutionVariables returns every variable visible from an execution.
func (e *Engine) ExecutionVariables(ctx context.Context, executionID string) (map[string]any, error) {
	processID, err := e.processOfExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	inst, err := e.Instance(ctx, processID)
	if err != nil {
		return nil, err
	}
	return visibleVariables(inst, inst.Executions[executionID]), nil
}

// History returns the activity audit trail of a process instance, in start order.
func (e *Engine) History(ctx context.Context, q domain.HistoryActivityQuery) ([]domain.HistoryActivity, error) {
	var out []domain.HistoryActivity
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.FindHistoryActivities(ctx, q)
		return err
	})
	return out, err
}

// HistoryExecution returns the audit span of a process instance.
func (e *Engine) HistoryExecution(ctx context.Context, processID string) (*domain.HistoryExecution, error) {
	var rec *domain.HistoryExecution
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		rec, err = tx.HistoryExecution(ctx, processID)
		return err
	})
	return rec, err
}

// HistoryTasks returns the user task audit trail of a process instance.
func (e *Engine) HistoryTasks(ctx context.Context, processID string) ([]domain.HistoryTask, error) {
	var out []domain.HistoryTask
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.FindHistoryTasks(ctx, processID)
		return err
	})
	return out, err
}

func (e *Engine) resolveDefinition(ctx context.Context, req StartRequest) (*domain.ProcessDefinition, error) {
	switch {
	case req.DefinitionID != "":
		return e.definitions.Definition(ctx, req.DefinitionID)
	case req.DefinitionKey != "":
		return e.definitions.DefinitionByKey(ctx, req.DefinitionKey, req.Revision)
	}
	return nil, domain.Errorf(domain.ErrDefinition, "a definition id or key is required")
}

func (e *Engine) processOfExecution(ctx context.Context, executionID string) (string, error) {
	var processID string
	err := e.store.View(ctx, func(tx ports.Tx) error {
		execs, err := tx.FindExecutions(ctx, domain.ExecutionQuery{ExecutionID: executionID})
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			return domain.Errorf(domain.ErrNotFound, "execution %q", executionID)
		}
		processID = execs[0].ProcessID
		return nil
	})
	return processID, err
}

func (e *Engine) deliverTargeted(ctx context.Context, kind domain.SubscriptionKind, name, executionID string, vars map[string]any) error {
	processID, err := e.processOfExecution(ctx, executionID)
	if err != nil {
		return err
	}
	return e.execute(ctx, []string{processID}, func(op *operation) error {
		inst, err := op.load(processID)
		if err != nil {
			return err
		}
		sub, ok := findSubscription(inst, executionID, kind, name)
		if !ok {
			return domain.Errorf(domain.ErrNoSubscriber, "%s %q", kind, name).At(inst.ID, executionID, "")
		}
		return op.consume(inst, sub, vars)
	})
}

// deliverOldest tries candidates oldest first, re-checking each under its lock.
func (e *Engine) deliverOldest(ctx context.Context, kind domain.SubscriptionKind, name string, vars map[string]any) (string, error) {
	var candidates []domain.EventSubscription
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		candidates, err = tx.FindSubscriptions(ctx, domain.SubscriptionQuery{Kind: kind, Name: name})
		return err
	})
	if err != nil {
		return "", err
	}

	for _, c := range candidates {
		err := e.execute(ctx, []string{c.ProcessID}, func(op *operation) error {
			inst, err := op.load(c.ProcessID)
			if err != nil {
				return err
			}
			sub, ok := inst.Subscription(c.ID)
			if !ok {
				return errSkip
			}
			return op.consume(inst, sub, vars)
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return "", err
		}
		return c.ExecutionID, nil
	}
	return "", domain.Errorf(domain.ErrNoSubscriber, "%s %q", kind, name)
}

// execute runs fn as one atomic call: instance locks, one transaction, the
// agenda drained to a stable point and every touched instance saved.
func (e *Engine) execute(ctx context.Context, processIDs []string, fn func(op *operation) error) error {
	return e.locks.WithLocks(ctx, processIDs, func(ctx context.Context) error {
		var committed []domain.Event
		err := e.store.Update(ctx, func(tx ports.Tx) error {
			op := newOperation(ctx, e, tx)
			if err := fn(op); err != nil {
				return err
			}
			if err := op.run(); err != nil {
				return err
			}
			if err := op.commit(); err != nil {
				return err
			}
			committed = op.events
			return nil
		})
		if err != nil {
			return err
		}
		e.notify(ctx, committed)
		return nil
	})
}

// notify delivers the events of a committed call to the notifiers. It runs
// under the instance locks so notifiers see calls in commit order.
func (e *Engine) notify(ctx context.Context, events []domain.Event) {
	if len(e.notifiers) == 0 || len(events) == 0 {
		return
	}
	err := e.store.View(ctx, func(tx ports.Tx) error {
		for i := range events {
			for _, n := range e.notifiers {
				if err := n.Observe(ctx, tx, &events[i]); err != nil {
					e.logger.Warn("Notifier failed", "process_id", events[i].ProcessID, "event", events[i].Type, "err", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("Failed to open notification transaction", "err", err)
	}
}
