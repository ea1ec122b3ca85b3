package bpmn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/bpmn/internal/logging"
	"github.com/aretw0/bpmn/internal/runtime"
	"github.com/aretw0/bpmn/pkg/adapters/memory"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/expr"
	"github.com/aretw0/bpmn/pkg/history"
	"github.com/aretw0/bpmn/pkg/lock"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/aretw0/bpmn/pkg/registry"
)

type (
	StartRequest    = runtime.StartRequest
	SignalRequest   = runtime.SignalRequest
	MessageRequest  = runtime.MessageRequest
	BroadcastResult = runtime.BroadcastResult
	SignalMode      = runtime.SignalMode
)

const (
	SignalBroadcast = runtime.SignalBroadcast
	SignalTargeted  = runtime.SignalTargeted
)

// ParseSignalMode validates a configured signal mode.
func ParseSignalMode(s string) (SignalMode, error) {
	return runtime.ParseSignalMode(s)
}

// Repository is a definition provider that accepts deployments.
type Repository interface {
	ports.DefinitionProvider
	Deploy(ctx context.Context, def *domain.ProcessDefinition) (*domain.ProcessDefinition, error)
}

// Engine is the high-level entry point of the library.
// It wires the runtime with a definition repository, a store, the history
// recorder and the handler registry.
type Engine struct {
	runtime  *runtime.Engine
	repo     Repository
	store    ports.Store
	registry *registry.Registry
	logger   *slog.Logger

	observers   []ports.Observer
	notifiers   []ports.Observer
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	evaluator   ports.ConditionEvaluator
	runtimeOpts []runtime.EngineOption
}

// Option configures the Engine.
type Option func(*Engine)

// WithRepository replaces the in-memory definition repository.
func WithRepository(r Repository) Option {
	return func(e *Engine) {
		e.repo = r
	}
}

// WithStore sets the durable store. Defaults to an in-memory store.
func WithStore(s ports.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithRegistry shares a handler registry between engines.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObserver registers an observer. Observers run after the history
// recorder, in registration order.
func WithObserver(o ports.Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithNotifier registers an observer that only sees committed calls, such as
// metrics or event streams. It runs after the call commits, reading committed
// state, and its errors are logged instead of failing the call.
func WithNotifier(o ports.Observer) Option {
	return func(e *Engine) {
		e.notifiers = append(e.notifiers, o)
	}
}

// WithDistributedLocker serializes instances across processes.
func WithDistributedLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithConditionEvaluator replaces the built-in expression language.
func WithConditionEvaluator(eval ports.ConditionEvaluator) Option {
	return func(e *Engine) {
		e.evaluator = eval
	}
}

// WithSignalMode selects the correlation of untargeted signals.
func WithSignalMode(mode SignalMode) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithSignalMode(mode))
	}
}

// WithMaxSteps bounds the node entries of a single call.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithMaxSteps(n))
	}
}

// WithClock overrides the time source of the runtime.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithClock(clock))
	}
}

// New creates an engine. Without options it runs fully in memory.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.repo == nil {
		e.repo = memory.NewRepository()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.registry == nil {
		e.registry = registry.New()
	}
	if e.evaluator == nil {
		e.evaluator = expr.Evaluate
	}

	lockOpts := []lock.Option{lock.WithLogger(e.logger)}
	if e.locker != nil {
		lockOpts = append(lockOpts, lock.WithLocker(e.locker), lock.WithTTL(e.lockTTL))
	}

	runtimeOpts := []runtime.EngineOption{
		runtime.WithLogger(e.logger),
		runtime.WithEvaluator(e.evaluator),
		runtime.WithDelegates(e.registry),
		runtime.WithLockManager(lock.NewManager(lockOpts...)),
		runtime.WithObserver(history.NewRecorder(history.WithLogger(e.logger))),
	}
	for _, o := range e.observers {
		runtimeOpts = append(runtimeOpts, runtime.WithObserver(o))
	}
	for _, o := range e.notifiers {
		runtimeOpts = append(runtimeOpts, runtime.WithNotifier(o))
	}
	runtimeOpts = append(runtimeOpts, e.runtimeOpts...)

	e.runtime = runtime.NewEngine(e.repo, e.store, runtimeOpts...)
	return e
}

// Deploy validates a definition and deploys it as the next revision of its key.
func (e *Engine) Deploy(ctx context.Context, def *domain.ProcessDefinition) (*domain.ProcessDefinition, error) {
	deployed, err := e.repo.Deploy(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy %q: %w", def.Key, err)
	}
	e.logger.Info("Definition deployed",
		"definition", deployed.Key,
		"revision", deployed.Revision,
		"id", deployed.ID,
	)
	return deployed, nil
}

// Definitions returns the latest revision of every deployed key.
func (e *Engine) Definitions(ctx context.Context) ([]*domain.ProcessDefinition, error) {
	return e.repo.Definitions(ctx)
}

// Definition returns a deployed definition by id.
func (e *Engine) Definition(ctx context.Context, id string) (*domain.ProcessDefinition, error) {
	return e.repo.Definition(ctx, id)
}

// DefinitionByKey returns a revision of a definition; 0 selects the latest.
func (e *Engine) DefinitionByKey(ctx context.Context, key string, revision int) (*domain.ProcessDefinition, error) {
	return e.repo.DefinitionByKey(ctx, key, revision)
}

// RegisterServiceTask binds fn to a service task node.
func (e *Engine) RegisterServiceTask(processKey, activityID string, fn registry.ServiceTaskFunc) {
	e.registry.RegisterServiceTask(processKey, activityID, fn)
}

// RegisterMessageHandler binds fn to a message throw event.
func (e *Engine) RegisterMessageHandler(processKey, activityID string, fn registry.MessageHandlerFunc) {
	e.registry.RegisterMessageHandler(processKey, activityID, fn)
}

// StartInstance creates an instance and runs it to its first wait state.
func (e *Engine) StartInstance(ctx context.Context, req StartRequest) (*domain.Instance, error) {
	return e.runtime.StartInstance(ctx, req)
}

// Signal resumes a waiting execution.
func (e *Engine) Signal(ctx context.Context, req SignalRequest) error {
	return e.runtime.Signal(ctx, req)
}

// DeliverMessage correlates a message with a waiting execution.
func (e *Engine) DeliverMessage(ctx context.Context, req MessageRequest) error {
	return e.runtime.DeliverMessage(ctx, req)
}

// SignalEvent delivers a named signal to one execution.
func (e *Engine) SignalEvent(ctx context.Context, name, executionID string, vars map[string]any) error {
	return e.runtime.SignalEvent(ctx, name, executionID, vars)
}

// BroadcastSignal delivers an untargeted signal.
func (e *Engine) BroadcastSignal(ctx context.Context, name string, vars map[string]any) (*BroadcastResult, error) {
	return e.runtime.BroadcastSignal(ctx, name, vars)
}

// CompleteTask completes a user task and resumes its execution.
func (e *Engine) CompleteTask(ctx context.Context, taskID string, vars map[string]any) error {
	return e.runtime.CompleteTask(ctx, taskID, vars)
}

func (e *Engine) Instance(ctx context.Context, id string) (*domain.Instance, error) {
	return e.runtime.Instance(ctx, id)
}

func (e *Engine) Executions(ctx context.Context, q domain.ExecutionQuery) ([]domain.Execution, error) {
	return e.runtime.Executions(ctx, q)
}

func (e *Engine) Subscriptions(ctx context.Context, q domain.SubscriptionQuery) ([]domain.EventSubscription, error) {
	return e.runtime.Subscriptions(ctx, q)
}

func (e *Engine) Tasks(ctx context.Context, q domain.TaskQuery) ([]domain.UserTask, error) {
	return e.runtime.Tasks(ctx, q)
}

func (e *Engine) Variables(ctx context.Context, processID string) (map[string]any, error) {
	return e.runtime.Variables(ctx, processID)
}

func (e *Engine) ExecutionVariables(ctx context.Context, executionID string) (map[string]any, error) {
	return e.runtime.ExecutionVariables(ctx, executionID)
}

// History returns the activity audit trail of an instance in start order.
func (e *Engine) History(ctx context.Context, processID string) ([]domain.HistoryActivity, error) {
	return e.runtime.History(ctx, domain.HistoryActivityQuery{ProcessID: processID})
}

func (e *Engine) HistoryExecution(ctx context.Context, processID string) (*domain.HistoryExecution, error) {
	return e.runtime.HistoryExecution(ctx, processID)
}

func (e *Engine) HistoryTasks(ctx context.Context, processID string) ([]domain.HistoryTask, error) {
	return e.runtime.HistoryTasks(ctx, processID)
}

// Store returns the store the engine persists to.
func (e *Engine) Store() ports.Store {
	return e.store
}
