package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/google/uuid"
)

// Repository implements ports.DefinitionProvider over deployed definitions held in memory.
type Repository struct {
	mu    sync.RWMutex
	byID  map[string]*domain.ProcessDefinition
	byKey map[string][]*domain.ProcessDefinition
	now   func() time.Time
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithClock overrides the deployment timestamp source.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		r.now = now
	}
}

// NewRepository creates an empty definition repository.
func NewRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		byID:  make(map[string]*domain.ProcessDefinition),
		byKey: make(map[string][]*domain.ProcessDefinition),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deploy validates the definition and stores it as the next revision of its key.
// The stored copy is returned; an empty ID is replaced by a random UUID.
func (r *Repository) Deploy(ctx context.Context, def *domain.ProcessDefinition) (*domain.ProcessDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deployed := *def
	deployed.Nodes = append([]domain.Node(nil), def.Nodes...)
	deployed.Transitions = append([]domain.Transition(nil), def.Transitions...)
	deployed.Revision = len(r.byKey[def.Key]) + 1
	deployed.DeploymentID = uuid.NewString()
	deployed.Deployed = r.now().UTC()
	if deployed.ID == "" {
		deployed.ID = uuid.NewString()
	}
	if _, dup := r.byID[deployed.ID]; dup {
		return nil, domain.Errorf(domain.ErrDefinition, "definition id %q is already deployed", deployed.ID)
	}

	r.byID[deployed.ID] = &deployed
	r.byKey[deployed.Key] = append(r.byKey[deployed.Key], &deployed)
	return &deployed, nil
}

// Definition returns the definition with the given id.
func (r *Repository) Definition(ctx context.Context, id string) (*domain.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byID[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "definition %q", id)
	}
	return def, nil
}

// DefinitionByKey returns a revision of key; 0 selects the latest.
func (r *Repository) DefinitionByKey(ctx context.Context, key string, revision int) (*domain.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	revs := r.byKey[key]
	if len(revs) == 0 {
		return nil, domain.Errorf(domain.ErrNotFound, "definition key %q", key)
	}
	if revision == 0 {
		return revs[len(revs)-1], nil
	}
	if revision < 0 || revision > len(revs) {
		return nil, domain.Errorf(domain.ErrNotFound, "definition %q revision %d", key, revision)
	}
	return revs[revision-1], nil
}

// Definitions returns the latest revision of every key, sorted by key.
func (r *Repository) Definitions(ctx context.Context) ([]*domain.ProcessDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ProcessDefinition, 0, len(r.byKey))
	for _, revs := range r.byKey {
		out = append(out, revs[len(revs)-1])
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out, nil
}
