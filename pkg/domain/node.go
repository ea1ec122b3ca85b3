package domain

// NodeKind identifies the behavior of a node.
type NodeKind string

const (
	KindNoneStart        NodeKind = "none_start"
	KindMessageStart     NodeKind = "message_start"
	KindSignalStart      NodeKind = "signal_start"
	KindTask             NodeKind = "task"
	KindUserTask         NodeKind = "user_task"
	KindServiceTask      NodeKind = "service_task"
	KindReceiveTask      NodeKind = "receive_task"
	KindMessageCatch     NodeKind = "message_catch"
	KindSignalCatch      NodeKind = "signal_catch"
	KindMessageThrow     NodeKind = "message_throw"
	KindExclusiveGateway NodeKind = "exclusive_gateway"
	KindParallelGateway  NodeKind = "parallel_gateway"
	KindSubProcess       NodeKind = "sub_process"
	KindErrorBoundary    NodeKind = "error_boundary"
	KindEnd              NodeKind = "end"
	KindTerminateEnd     NodeKind = "terminate_end"
)

// IsStart reports whether the kind is one of the start events.
func (k NodeKind) IsStart() bool {
	return k == KindNoneStart || k == KindMessageStart || k == KindSignalStart
}

// Valid reports whether the kind is known.
func (k NodeKind) Valid() bool {
	switch k {
	case KindNoneStart, KindMessageStart, KindSignalStart,
		KindTask, KindUserTask, KindServiceTask, KindReceiveTask,
		KindMessageCatch, KindSignalCatch, KindMessageThrow,
		KindExclusiveGateway, KindParallelGateway, KindSubProcess,
		KindErrorBoundary, KindEnd, KindTerminateEnd:
		return true
	}
	return false
}

// Node is a single element of the process graph.
type Node struct {
	ID   string   `json:"id" yaml:"id"`
	Kind NodeKind `json:"kind" yaml:"kind"`
	Name string   `json:"name,omitempty" yaml:"name,omitempty"`

	// Parent is the enclosing sub-process node, empty at the top level.
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`

	// Message and Signal name the events for start, catch, receive and throw nodes.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Signal  string `json:"signal,omitempty" yaml:"signal,omitempty"`

	// Error boundary attachment. An empty ErrorCode catches every business error.
	AttachedTo string `json:"attached_to,omitempty" yaml:"attached_to,omitempty" mapstructure:"attached_to"`
	ErrorCode  string `json:"error_code,omitempty" yaml:"error_code,omitempty" mapstructure:"error_code"`

	// Default is the transition taken by an exclusive gateway when no condition holds.
	Default string `json:"default,omitempty" yaml:"default,omitempty"`

	// User task attributes.
	Assignee    string `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Priority    int    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Label returns the name of the node, falling back to its id.
func (n Node) Label() string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

// Transition is a sequence flow between two nodes.
type Transition struct {
	ID        string `json:"id" yaml:"id"`
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}
