package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

// Store implements ports.Store in memory.
// Update works on a copy of the data and swaps it in on success, so a failing
// call leaves no trace. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data *snapshot
}

type snapshot struct {
	instances map[string]*domain.Instance

	executions map[string]domain.HistoryExecution
	tasks      map[string]domain.HistoryTask
	activities map[string]domain.HistoryActivity
	taskOrder  []string
	actOrder   []string
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: &snapshot{
			instances:  make(map[string]*domain.Instance),
			executions: make(map[string]domain.HistoryExecution),
			tasks:      make(map[string]domain.HistoryTask),
			activities: make(map[string]domain.HistoryActivity),
		},
	}
}

// Stored instances and records are never mutated in place, so a shallow
// copy of the maps is enough to isolate a transaction.
func (s *snapshot) clone() *snapshot {
	c := &snapshot{
		instances:  make(map[string]*domain.Instance, len(s.instances)),
		executions: make(map[string]domain.HistoryExecution, len(s.executions)),
		tasks:      make(map[string]domain.HistoryTask, len(s.tasks)),
		activities: make(map[string]domain.HistoryActivity, len(s.activities)),
		taskOrder:  append([]string(nil), s.taskOrder...),
		actOrder:   append([]string(nil), s.actOrder...),
	}
	for k, v := range s.instances {
		c.instances[k] = v
	}
	for k, v := range s.executions {
		c.executions[k] = v
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.activities {
		c.activities[k] = v
	}
	return c
}

// Update runs fn against a private copy and commits it if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(tx ports.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	if err := fn(&tx{data: next, writable: true}); err != nil {
		return err
	}
	s.data = next
	return nil
}

// View runs fn against the committed data.
func (s *Store) View(ctx context.Context, fn func(tx ports.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{data: s.data})
}

type tx struct {
	data     *snapshot
	writable bool
}

func (t *tx) Instance(ctx context.Context, id string) (*domain.Instance, error) {
	inst, ok := t.data.instances[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "instance %q", id)
	}
	return inst.Clone(), nil
}

func (t *tx) SaveInstance(ctx context.Context, inst *domain.Instance) error {
	if !t.writable {
		return errReadOnly
	}
	var current int64
	if stored, ok := t.data.instances[inst.ID]; ok {
		current = stored.Revision
	}
	if current != inst.Revision {
		return domain.Errorf(domain.ErrConflict, "instance %q is at revision %d, not %d", inst.ID, current, inst.Revision)
	}

	inst.Revision++
	t.data.instances[inst.ID] = inst.Clone()
	return nil
}

func (t *tx) FindExecutions(ctx context.Context, q domain.ExecutionQuery) ([]domain.Execution, error) {
	var subscribed map[string]bool
	if sq, ok := q.Subscriptions(); ok {
		subs, _ := t.FindSubscriptions(ctx, sq)
		subscribed = make(map[string]bool, len(subs))
		for _, s := range subs {
			subscribed[s.ExecutionID] = true
		}
	}

	var out []*domain.Execution
	for _, inst := range t.data.instances {
		if q.ProcessID != "" && inst.ID != q.ProcessID {
			continue
		}
		for _, e := range inst.Executions {
			if !q.Match(e) {
				continue
			}
			if subscribed != nil && !subscribed[e.ID] {
				continue
			}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})

	result := make([]domain.Execution, len(out))
	for i, e := range out {
		result[i] = *e
	}
	return result, nil
}

func (t *tx) FindSubscriptions(ctx context.Context, q domain.SubscriptionQuery) ([]domain.EventSubscription, error) {
	var out []domain.EventSubscription
	for _, inst := range t.data.instances {
		if q.ProcessID != "" && inst.ID != q.ProcessID {
			continue
		}
		for i := range inst.Subscriptions {
			if q.Match(&inst.Subscriptions[i]) {
				out = append(out, inst.Subscriptions[i])
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (t *tx) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.UserTask, error) {
	var out []domain.UserTask
	for _, inst := range t.data.instances {
		if q.ProcessID != "" && inst.ID != q.ProcessID {
			continue
		}
		for i := range inst.Tasks {
			if q.Match(&inst.Tasks[i]) {
				out = append(out, inst.Tasks[i])
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (t *tx) HistoryExecution(ctx context.Context, id string) (*domain.HistoryExecution, error) {
	rec, ok := t.data.executions[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "history execution %q", id)
	}
	return &rec, nil
}

func (t *tx) PutHistoryExecution(ctx context.Context, rec *domain.HistoryExecution) error {
	if !t.writable {
		return errReadOnly
	}
	t.data.executions[rec.ID] = *rec
	return nil
}

func (t *tx) HistoryTask(ctx context.Context, id string) (*domain.HistoryTask, error) {
	rec, ok := t.data.tasks[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "history task %q", id)
	}
	return &rec, nil
}

func (t *tx) PutHistoryTask(ctx context.Context, rec *domain.HistoryTask) error {
	if !t.writable {
		return errReadOnly
	}
	if _, exists := t.data.tasks[rec.ID]; !exists {
		t.data.taskOrder = append(t.data.taskOrder, rec.ID)
	}
	t.data.tasks[rec.ID] = *rec
	return nil
}

func (t *tx) FindHistoryTasks(ctx context.Context, processID string) ([]domain.HistoryTask, error) {
	var out []domain.HistoryTask
	for _, id := range t.data.taskOrder {
		if rec := t.data.tasks[id]; rec.ExecutionID == processID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (t *tx) HistoryActivity(ctx context.Context, id string) (*domain.HistoryActivity, error) {
	rec, ok := t.data.activities[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "history activity %q", id)
	}
	return &rec, nil
}

func (t *tx) PutHistoryActivity(ctx context.Context, rec *domain.HistoryActivity) error {
	if !t.writable {
		return errReadOnly
	}
	if _, exists := t.data.activities[rec.ID]; !exists {
		t.data.actOrder = append(t.data.actOrder, rec.ID)
	}
	t.data.activities[rec.ID] = *rec
	return nil
}

func (t *tx) FindHistoryActivities(ctx context.Context, q domain.HistoryActivityQuery) ([]domain.HistoryActivity, error) {
	var out []domain.HistoryActivity
	for _, id := range t.data.actOrder {
		rec := t.data.activities[id]
		if q.Match(&rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].StartedAt < out[b].StartedAt
	})
	return out, nil
}
