package definition

import (
	"fmt"

	"github.com/aretw0/bpmn/pkg/domain"
)

// document is the YAML shape of a process definition.
type document struct {
	Key   string    `mapstructure:"key"`
	Name  string    `mapstructure:"name"`
	Nodes []nodeDoc `mapstructure:"nodes"`
}

type nodeDoc struct {
	ID          string `mapstructure:"id"`
	Kind        string `mapstructure:"kind"`
	Name        string `mapstructure:"name"`
	Parent      string `mapstructure:"parent"`
	Message     string `mapstructure:"message"`
	Signal      string `mapstructure:"signal"`
	AttachedTo  string `mapstructure:"attached_to"`
	ErrorCode   string `mapstructure:"error_code"`
	Assignee    string `mapstructure:"assignee"`
	Description string `mapstructure:"description"`
	Priority    int    `mapstructure:"priority"`

	Next        string          `mapstructure:"next"`
	Transitions []transitionDoc `mapstructure:"transitions"`
}

type transitionDoc struct {
	ID        string `mapstructure:"id"`
	To        string `mapstructure:"to"`
	ToFull    string `mapstructure:"to_node_id"`
	Condition string `mapstructure:"condition"`
	Default   bool   `mapstructure:"default"`
}

// target accepts both spellings of the destination.
func (t transitionDoc) target() string {
	if t.To != "" {
		return t.To
	}
	return t.ToFull
}

// toDomain flattens the per-node flows into the transition list. Flows without
// an id are named "from-to", suffixed when the pair repeats.
func (d *document) toDomain() (*domain.ProcessDefinition, error) {
	def := &domain.ProcessDefinition{Key: d.Key, Name: d.Name}
	seen := make(map[string]int)
	flowID := func(explicit, from, to string) string {
		if explicit != "" {
			return explicit
		}
		id := from + "-" + to
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}
		return id
	}

	for _, n := range d.Nodes {
		node := domain.Node{
			ID:          n.ID,
			Kind:        domain.NodeKind(n.Kind),
			Name:        n.Name,
			Parent:      n.Parent,
			Message:     n.Message,
			Signal:      n.Signal,
			AttachedTo:  n.AttachedTo,
			ErrorCode:   n.ErrorCode,
			Assignee:    n.Assignee,
			Description: n.Description,
			Priority:    n.Priority,
		}

		flows := n.Transitions
		if n.Next != "" {
			flows = append([]transitionDoc{{To: n.Next}}, flows...)
		}
		for _, f := range flows {
			if f.target() == "" {
				return nil, fmt.Errorf("node %q: transition without a target", n.ID)
			}
			t := domain.Transition{
				ID:        flowID(f.ID, n.ID, f.target()),
				From:      n.ID,
				To:        f.target(),
				Condition: f.Condition,
			}
			if f.Default {
				if node.Default != "" {
					return nil, fmt.Errorf("node %q: more than one default transition", n.ID)
				}
				node.Default = t.ID
			}
			def.Transitions = append(def.Transitions, t)
		}
		def.Nodes = append(def.Nodes, node)
	}
	return def, nil
}
