package domain

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// ProcessDefinition is an immutable deployed process graph.
// A new revision is deployed under the same key instead of mutating it.
type ProcessDefinition struct {
	ID           string       `json:"id" yaml:"id"`
	Key          string       `json:"key" yaml:"key"`
	Name         string       `json:"name,omitempty" yaml:"name,omitempty"`
	Revision     int          `json:"revision" yaml:"revision"`
	Deployed     time.Time    `json:"deployed" yaml:"-"`
	DeploymentID string       `json:"deployment_id,omitempty" yaml:"-"`
	Nodes        []Node       `json:"nodes" yaml:"nodes"`
	Transitions  []Transition `json:"transitions" yaml:"transitions"`
}

// Node returns the node with the given id.
func (d *ProcessDefinition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing returns the transitions leaving a node, in declaration order.
func (d *ProcessDefinition) Outgoing(nodeID string) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.From == nodeID {
			out = append(out, t)
		}
	}
	return out
}

// Incoming returns the transitions arriving at a node, in declaration order.
func (d *ProcessDefinition) Incoming(nodeID string) []Transition {
	var in []Transition
	for _, t := range d.Transitions {
		if t.To == nodeID {
			in = append(in, t)
		}
	}
	return in
}

// Children returns the nodes directly enclosed by a sub-process ("" for the top level).
func (d *ProcessDefinition) Children(parent string) []Node {
	var nodes []Node
	for _, n := range d.Nodes {
		if n.Parent == parent {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// FindNoneStart returns the top-level none start event.
func (d *ProcessDefinition) FindNoneStart() (*Node, error) {
	return d.findStart(KindNoneStart, "", "none")
}

// FindMessageStart returns the top-level start event listening for the message.
func (d *ProcessDefinition) FindMessageStart(name string) (*Node, error) {
	return d.findStart(KindMessageStart, name, fmt.Sprintf("%q message", name))
}

// FindSignalStart returns the top-level start event listening for the signal.
func (d *ProcessDefinition) FindSignalStart(name string) (*Node, error) {
	return d.findStart(KindSignalStart, name, fmt.Sprintf("%q signal", name))
}

// FindStart resolves the start node selected by a trigger.
func (d *ProcessDefinition) FindStart(trigger Trigger) (*Node, error) {
	switch trigger.Kind {
	case TriggerNone:
		return d.FindNoneStart()
	case TriggerMessage:
		return d.FindMessageStart(trigger.Name)
	case TriggerSignal:
		return d.FindSignalStart(trigger.Name)
	}
	return nil, Errorf(ErrDefinition, "unknown start trigger %q", trigger.Kind)
}

// Sub-process start events are never candidates.
func (d *ProcessDefinition) findStart(kind NodeKind, name, label string) (*Node, error) {
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.Parent != "" || n.Kind != kind {
			continue
		}
		switch kind {
		case KindMessageStart:
			if n.Message != name {
				continue
			}
		case KindSignalStart:
			if n.Signal != name {
				continue
			}
		}
		return n, nil
	}
	return nil, Errorf(ErrDefinition, "no %s start event found in %q revision %d", label, d.Key, d.Revision)
}

// SubProcessStart returns the none start event enclosed by a sub-process.
func (d *ProcessDefinition) SubProcessStart(subProcessID string) (*Node, error) {
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.Parent == subProcessID && n.Kind == KindNoneStart {
			return n, nil
		}
	}
	return nil, Errorf(ErrDefinition, "sub-process %q has no none start event", subProcessID)
}

// ErrorBoundary returns the boundary event catching code on an activity.
// An exact code match wins over a catch-all boundary.
func (d *ProcessDefinition) ErrorBoundary(activityID, code string) (*Node, bool) {
	var catchAll *Node
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.Kind != KindErrorBoundary || n.AttachedTo != activityID {
			continue
		}
		if n.ErrorCode == code {
			return n, true
		}
		if n.ErrorCode == "" && catchAll == nil {
			catchAll = n
		}
	}
	return catchAll, catchAll != nil
}

// Validate checks the structural consistency of the graph and reports every
// problem found, wrapped in a single ErrDefinition.
func (d *ProcessDefinition) Validate() error {
	var errs error
	if d.Key == "" {
		errs = multierr.Append(errs, fmt.Errorf("definition key is required"))
	}

	nodes := make(map[string]*Node, len(d.Nodes))
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("node #%d has no id", i))
			continue
		}
		if _, dup := nodes[n.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("duplicate node %q", n.ID))
		}
		nodes[n.ID] = n
	}

	starts := 0
	for _, n := range nodes {
		if !n.Kind.Valid() {
			errs = multierr.Append(errs, fmt.Errorf("node %q has unknown kind %q", n.ID, n.Kind))
		}
		if n.Parent != "" {
			if p, ok := nodes[n.Parent]; !ok || p.Kind != KindSubProcess {
				errs = multierr.Append(errs, fmt.Errorf("node %q: parent %q is not a sub-process", n.ID, n.Parent))
			}
		}
		if n.Kind.IsStart() && n.Parent == "" {
			starts++
		}
		switch n.Kind {
		case KindMessageStart, KindMessageCatch, KindMessageThrow:
			if n.Message == "" {
				errs = multierr.Append(errs, fmt.Errorf("node %q: message name is required", n.ID))
			}
		case KindSignalStart, KindSignalCatch:
			if n.Signal == "" {
				errs = multierr.Append(errs, fmt.Errorf("node %q: signal name is required", n.ID))
			}
		case KindErrorBoundary:
			a, ok := nodes[n.AttachedTo]
			if !ok || (a.Kind != KindServiceTask && a.Kind != KindSubProcess) {
				errs = multierr.Append(errs, fmt.Errorf("boundary %q must be attached to a service task or sub-process", n.ID))
			} else if a.Parent != n.Parent {
				errs = multierr.Append(errs, fmt.Errorf("boundary %q must share the scope of %q", n.ID, a.ID))
			}
		case KindSubProcess:
			if _, err := d.SubProcessStart(n.ID); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	if starts == 0 {
		errs = multierr.Append(errs, fmt.Errorf("no top-level start event"))
	}

	flows := make(map[string]bool, len(d.Transitions))
	for _, t := range d.Transitions {
		if t.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("transition %s -> %s has no id", t.From, t.To))
		} else if flows[t.ID] {
			errs = multierr.Append(errs, fmt.Errorf("duplicate transition %q", t.ID))
		}
		flows[t.ID] = true

		from, okFrom := nodes[t.From]
		to, okTo := nodes[t.To]
		if !okFrom {
			errs = multierr.Append(errs, fmt.Errorf("transition %q: unknown source %q", t.ID, t.From))
		}
		if !okTo {
			errs = multierr.Append(errs, fmt.Errorf("transition %q: unknown target %q", t.ID, t.To))
		}
		if okFrom && okTo {
			if from.Parent != to.Parent {
				errs = multierr.Append(errs, fmt.Errorf("transition %q crosses a sub-process boundary", t.ID))
			}
			if to.Kind.IsStart() {
				errs = multierr.Append(errs, fmt.Errorf("transition %q targets start event %q", t.ID, t.To))
			}
		}
	}

	for _, n := range nodes {
		if n.Default == "" {
			continue
		}
		found := false
		for _, t := range d.Outgoing(n.ID) {
			if t.ID == n.Default {
				found = true
				break
			}
		}
		if !found {
			errs = multierr.Append(errs, fmt.Errorf("node %q: default transition %q is not outgoing", n.ID, n.Default))
		}
	}

	if errs != nil {
		return Errorf(ErrDefinition, "invalid definition %q", d.Key).Wrap(errs)
	}
	return nil
}

// TriggerKind selects how an instance is started.
type TriggerKind string

const (
	TriggerNone    TriggerKind = "none"
	TriggerMessage TriggerKind = "message"
	TriggerSignal  TriggerKind = "signal"
)

// Trigger selects the start event of a new instance.
type Trigger struct {
	Kind TriggerKind `json:"kind"`
	Name string      `json:"name,omitempty"`
}
