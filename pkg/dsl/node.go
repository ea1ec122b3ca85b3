package dsl

import "github.com/aretw0/bpmn/pkg/domain"

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	builder *Builder
}

func (n *NodeBuilder) kind(k domain.NodeKind) *NodeBuilder {
	n.node.Kind = k
	return n
}

// Start marks the node as the none start event.
func (n *NodeBuilder) Start() *NodeBuilder { return n.kind(domain.KindNoneStart) }

// MessageStart marks the node as a start event triggered by a message.
func (n *NodeBuilder) MessageStart(message string) *NodeBuilder {
	n.node.Message = message
	return n.kind(domain.KindMessageStart)
}

// SignalStart marks the node as a start event triggered by a signal.
func (n *NodeBuilder) SignalStart(signal string) *NodeBuilder {
	n.node.Signal = signal
	return n.kind(domain.KindSignalStart)
}

// Task marks the node as a pass-through task.
func (n *NodeBuilder) Task() *NodeBuilder { return n.kind(domain.KindTask) }

// UserTask marks the node as a human task that waits for completion.
func (n *NodeBuilder) UserTask() *NodeBuilder { return n.kind(domain.KindUserTask) }

// ServiceTask marks the node as a task run by a registered handler.
func (n *NodeBuilder) ServiceTask() *NodeBuilder { return n.kind(domain.KindServiceTask) }

// ReceiveTask marks the node as a wait state. With a message name it
// subscribes to that message, otherwise it waits for a plain signal.
func (n *NodeBuilder) ReceiveTask(message string) *NodeBuilder {
	n.node.Message = message
	return n.kind(domain.KindReceiveTask)
}

// MessageCatch marks the node as an intermediate message catch event.
func (n *NodeBuilder) MessageCatch(message string) *NodeBuilder {
	n.node.Message = message
	return n.kind(domain.KindMessageCatch)
}

// SignalCatch marks the node as an intermediate signal catch event.
func (n *NodeBuilder) SignalCatch(signal string) *NodeBuilder {
	n.node.Signal = signal
	return n.kind(domain.KindSignalCatch)
}

// MessageThrow marks the node as an intermediate message throw event.
func (n *NodeBuilder) MessageThrow(message string) *NodeBuilder {
	n.node.Message = message
	return n.kind(domain.KindMessageThrow)
}

// Exclusive marks the node as an exclusive gateway.
func (n *NodeBuilder) Exclusive() *NodeBuilder { return n.kind(domain.KindExclusiveGateway) }

// Parallel marks the node as a parallel gateway.
func (n *NodeBuilder) Parallel() *NodeBuilder { return n.kind(domain.KindParallelGateway) }

// SubProcess marks the node as an embedded sub-process.
// Its children are added with In.
func (n *NodeBuilder) SubProcess() *NodeBuilder { return n.kind(domain.KindSubProcess) }

// End marks the node as a none end event.
func (n *NodeBuilder) End() *NodeBuilder { return n.kind(domain.KindEnd) }

// Terminate marks the node as a terminate end event.
func (n *NodeBuilder) Terminate() *NodeBuilder { return n.kind(domain.KindTerminateEnd) }

// Catch marks the node as an error boundary event on activity.
// An empty code catches every business error.
func (n *NodeBuilder) Catch(activity, code string) *NodeBuilder {
	n.node.AttachedTo = activity
	n.node.ErrorCode = code
	return n.kind(domain.KindErrorBoundary)
}

// In places the node inside a sub-process.
func (n *NodeBuilder) In(subProcess string) *NodeBuilder {
	n.node.Parent = subProcess
	return n
}

// Named sets the display name.
func (n *NodeBuilder) Named(name string) *NodeBuilder {
	n.node.Name = name
	return n
}

// Assign sets the user task assignee.
func (n *NodeBuilder) Assign(assignee string) *NodeBuilder {
	n.node.Assignee = assignee
	return n
}

// Describe sets the user task description.
func (n *NodeBuilder) Describe(description string) *NodeBuilder {
	n.node.Description = description
	return n
}

// Priority sets the user task priority.
func (n *NodeBuilder) Priority(p int) *NodeBuilder {
	n.node.Priority = p
	return n
}

// Go adds an unconditional transition to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.builder.flow(n.node.ID, target, "")
	return n
}

// Branch adds a conditional transition to the target node.
func (n *NodeBuilder) Branch(condition string, target string) *NodeBuilder {
	n.builder.flow(n.node.ID, target, condition)
	return n
}

// Otherwise adds the default transition, taken when no other transition qualifies.
func (n *NodeBuilder) Otherwise(target string) *NodeBuilder {
	n.node.Default = n.builder.flow(n.node.ID, target, "")
	return n
}

// Build returns the underlying domain.Node.
func (n *NodeBuilder) Build() domain.Node {
	return n.node
}
