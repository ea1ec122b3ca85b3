package dsl

import (
	"fmt"

	"github.com/aretw0/bpmn/pkg/domain"
)

// Builder manages the process construction.
type Builder struct {
	key   string
	name  string
	order []string
	nodes map[string]*NodeBuilder
	flows []domain.Transition
	ids   map[string]int
}

// New creates a new process builder for the given definition key.
func New(key string) *Builder {
	return &Builder{
		key:   key,
		nodes: make(map[string]*NodeBuilder),
		ids:   make(map[string]int),
	}
}

// Name sets the human readable name of the process.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// Add creates a new node in the process. Nodes default to plain tasks.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node: domain.Node{
			ID:   id,
			Kind: domain.KindTask,
		},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

func (b *Builder) flow(from, to, condition string) string {
	id := from + "-" + to
	b.ids[id]++
	if n := b.ids[id]; n > 1 {
		id = fmt.Sprintf("%s-%d", id, n)
	}
	b.flows = append(b.flows, domain.Transition{ID: id, From: from, To: to, Condition: condition})
	return id
}

// Build compiles and validates the process definition.
// Nodes and transitions keep their declaration order.
func (b *Builder) Build() (*domain.ProcessDefinition, error) {
	def := &domain.ProcessDefinition{
		Key:         b.key,
		Name:        b.name,
		Nodes:       make([]domain.Node, 0, len(b.order)),
		Transitions: append([]domain.Transition(nil), b.flows...),
	}
	for _, id := range b.order {
		def.Nodes = append(def.Nodes, b.nodes[id].node)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("failed to build process %q: %w", b.key, err)
	}
	return def, nil
}
