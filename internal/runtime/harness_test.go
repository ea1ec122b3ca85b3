package runtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/bpmn/internal/runtime"
	"github.com/aretw0/bpmn/pkg/adapters/memory"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/dsl"
	"github.com/aretw0/bpmn/pkg/expr"
	"github.com/aretw0/bpmn/pkg/history"
	"github.com/aretw0/bpmn/pkg/registry"
	"github.com/stretchr/testify/require"
)

// tickingClock advances one millisecond per reading so creation order is total.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type harness struct {
	repo     *memory.Repository
	store    *memory.Store
	registry *registry.Registry
	engine   *runtime.Engine
}

func newHarness(t *testing.T, opts ...runtime.EngineOption) *harness {
	t.Helper()
	clock := &tickingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	h := &harness{
		repo:     memory.NewRepository(memory.WithClock(clock.Now)),
		store:    memory.NewStore(),
		registry: registry.New(),
	}
	base := []runtime.EngineOption{
		runtime.WithObserver(history.NewRecorder()),
		runtime.WithDelegates(h.registry),
		runtime.WithEvaluator(expr.Evaluate),
		runtime.WithClock(clock.Now),
	}
	h.engine = runtime.NewEngine(h.repo, h.store, append(base, opts...)...)
	return h
}

func (h *harness) deploy(t *testing.T, b *dsl.Builder) *domain.ProcessDefinition {
	t.Helper()
	def, err := b.Build()
	require.NoError(t, err)
	deployed, err := h.repo.Deploy(context.Background(), def)
	require.NoError(t, err)
	return deployed
}

func (h *harness) start(t *testing.T, key string, vars map[string]any) *domain.Instance {
	t.Helper()
	inst, err := h.engine.StartInstance(context.Background(), runtime.StartRequest{DefinitionKey: key, Variables: vars})
	require.NoError(t, err)
	return inst
}

func (h *harness) completedKeys(t *testing.T, processID string) []string {
	t.Helper()
	rows, err := h.engine.History(context.Background(), domain.HistoryActivityQuery{ProcessID: processID, Completed: domain.Bool(true)})
	require.NoError(t, err)
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Activity)
	}
	return keys
}

func (h *harness) instance(t *testing.T, id string) *domain.Instance {
	t.Helper()
	inst, err := h.engine.Instance(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func (h *harness) waiting(t *testing.T, processID string) []domain.Execution {
	t.Helper()
	execs, err := h.engine.Executions(context.Background(), domain.ExecutionQuery{ProcessID: processID, Waiting: domain.Bool(true)})
	require.NoError(t, err)
	return execs
}

func (h *harness) tasks(t *testing.T, processID string) []domain.UserTask {
	t.Helper()
	tasks, err := h.engine.Tasks(context.Background(), domain.TaskQuery{ProcessID: processID})
	require.NoError(t, err)
	return tasks
}

func (h *harness) completeTask(t *testing.T, processID, activityID string, vars map[string]any) {
	t.Helper()
	tasks, err := h.engine.Tasks(context.Background(), domain.TaskQuery{ProcessID: processID, ActivityID: activityID})
	require.NoError(t, err)
	require.Len(t, tasks, 1, "open task on %s", activityID)
	require.NoError(t, h.engine.CompleteTask(context.Background(), tasks[0].ID, vars))
}

// manualClock only moves when told to, in either direction.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
