package domain

import (
	"sort"
	"time"
)

// ExecutionState is the lifecycle position of an execution on its current node.
type ExecutionState string

const (
	StateCreated    ExecutionState = "created"
	StateEntered    ExecutionState = "entered"
	StateWaiting    ExecutionState = "waiting"
	StateLeaving    ExecutionState = "leaving"
	StateJoining    ExecutionState = "joining"
	StateTerminated ExecutionState = "terminated"
)

// EndState records how an execution finished.
type EndState string

const (
	EndCompleted  EndState = "completed"
	EndTerminated EndState = "terminated"
	EndCancelled  EndState = "cancelled"
)

// Execution is a node of the execution tree of one process instance.
// Parent links are ids into the owning Instance arena.
type Execution struct {
	ID           string         `json:"id"`
	ParentID     string         `json:"parent_id,omitempty"`
	ProcessID    string         `json:"process_id"`
	ActivityID   string         `json:"activity_id,omitempty"`
	IsScope      bool           `json:"is_scope"`
	IsActive     bool           `json:"is_active"`
	IsWaiting    bool           `json:"is_waiting"`
	IsConcurrent bool           `json:"is_concurrent"`
	State        ExecutionState `json:"state"`

	// ActivityRecordID is the open HistoryActivity span of the current visit.
	ActivityRecordID  string    `json:"activity_record_id,omitempty"`
	ActivityStartedAt time.Time `json:"activity_started_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndState  EndState   `json:"end_state,omitempty"`
}

// IsRoot reports whether the execution is the process instance itself.
func (e *Execution) IsRoot() bool {
	return e.ParentID == ""
}

// Ended reports whether the execution has finished.
func (e *Execution) Ended() bool {
	return e.State == StateTerminated
}

// SubscriptionKind is the kind of event a subscription waits for.
type SubscriptionKind string

const (
	SubscriptionMessage SubscriptionKind = "message"
	SubscriptionSignal  SubscriptionKind = "signal"
)

// EventSubscription correlates an external trigger to a waiting execution.
type EventSubscription struct {
	ID          string           `json:"id"`
	ProcessID   string           `json:"process_id"`
	ExecutionID string           `json:"execution_id"`
	Kind        SubscriptionKind `json:"kind"`
	Name        string           `json:"name"`
	ActivityID  string           `json:"activity_id"`
	CreatedAt   time.Time        `json:"created_at"`
}

// UserTask is an open human task parking an execution.
type UserTask struct {
	ID          string    `json:"id"`
	ProcessID   string    `json:"process_id"`
	ExecutionID string    `json:"execution_id"`
	ActivityID  string    `json:"activity_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Priority    int       `json:"priority,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Instance is the arena of one running (or ended) process instance.
// Its ID equals the id of the root execution.
type Instance struct {
	ID            string                    `json:"id"`
	DefinitionID  string                    `json:"definition_id"`
	DefinitionKey string                    `json:"definition_key"`
	BusinessKey   string                    `json:"business_key,omitempty"`
	Revision      int64                     `json:"revision"`
	Executions    map[string]*Execution     `json:"executions"`
	Variables     map[string]map[string]any `json:"variables"`
	Subscriptions []EventSubscription       `json:"subscriptions,omitempty"`
	Tasks         []UserTask                `json:"tasks,omitempty"`
	StartedAt     time.Time                 `json:"started_at"`
	EndedAt       *time.Time                `json:"ended_at,omitempty"`
}

// Root returns the root execution.
func (i *Instance) Root() *Execution {
	return i.Executions[i.ID]
}

// Ended reports whether no active execution remains under the root.
func (i *Instance) Ended() bool {
	return i.EndedAt != nil
}

// Children returns the direct children of an execution ordered by creation.
func (i *Instance) Children(parentID string) []*Execution {
	var out []*Execution
	for _, e := range i.Executions {
		if e.ParentID == parentID {
			out = append(out, e)
		}
	}
	sortExecutions(out)
	return out
}

// SortedExecutions returns every execution ordered by creation.
func (i *Instance) SortedExecutions() []*Execution {
	out := make([]*Execution, 0, len(i.Executions))
	for _, e := range i.Executions {
		out = append(out, e)
	}
	sortExecutions(out)
	return out
}

// Subscription returns the subscription with the given id.
func (i *Instance) Subscription(id string) (*EventSubscription, bool) {
	for k := range i.Subscriptions {
		if i.Subscriptions[k].ID == id {
			return &i.Subscriptions[k], true
		}
	}
	return nil, false
}

// Task returns the open user task with the given id.
func (i *Instance) Task(id string) (*UserTask, bool) {
	for k := range i.Tasks {
		if i.Tasks[k].ID == id {
			return &i.Tasks[k], true
		}
	}
	return nil, false
}

// Clone returns a deep copy, nested variable values included.
func (i *Instance) Clone() *Instance {
	c := *i
	c.Executions = make(map[string]*Execution, len(i.Executions))
	for id, e := range i.Executions {
		ec := *e
		if e.EndedAt != nil {
			t := *e.EndedAt
			ec.EndedAt = &t
		}
		c.Executions[id] = &ec
	}
	c.Variables = make(map[string]map[string]any, len(i.Variables))
	for scope, vars := range i.Variables {
		c.Variables[scope] = CopyVariables(vars)
		if c.Variables[scope] == nil {
			c.Variables[scope] = map[string]any{}
		}
	}
	c.Subscriptions = append([]EventSubscription(nil), i.Subscriptions...)
	c.Tasks = append([]UserTask(nil), i.Tasks...)
	if i.EndedAt != nil {
		t := *i.EndedAt
		c.EndedAt = &t
	}
	return &c
}

func sortExecutions(execs []*Execution) {
	sort.Slice(execs, func(a, b int) bool {
		if !execs[a].CreatedAt.Equal(execs[b].CreatedAt) {
			return execs[a].CreatedAt.Before(execs[b].CreatedAt)
		}
		return execs[a].ID < execs[b].ID
	})
}
