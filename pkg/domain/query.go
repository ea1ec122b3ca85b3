package domain

// ExecutionQuery filters executions. Zero values match everything.
type ExecutionQuery struct {
	ExecutionID string
	ProcessID   string
	ActivityID  string
	Waiting     *bool
	Scope       *bool
	Active      *bool

	// SubscriptionName restricts the result to executions holding a
	// subscription with that event name (and kind, when set).
	SubscriptionName string
	SubscriptionKind SubscriptionKind
}

// Match reports whether the execution satisfies every field except the
// subscription filters.
func (q ExecutionQuery) Match(e *Execution) bool {
	if q.ExecutionID != "" && e.ID != q.ExecutionID {
		return false
	}
	if q.ProcessID != "" && e.ProcessID != q.ProcessID {
		return false
	}
	if q.ActivityID != "" && e.ActivityID != q.ActivityID {
		return false
	}
	if q.Waiting != nil && e.IsWaiting != *q.Waiting {
		return false
	}
	if q.Scope != nil && e.IsScope != *q.Scope {
		return false
	}
	if q.Active != nil && e.IsActive != *q.Active {
		return false
	}
	return true
}

// Subscriptions returns the subscription filter implied by the query.
func (q ExecutionQuery) Subscriptions() (SubscriptionQuery, bool) {
	if q.SubscriptionName == "" && q.SubscriptionKind == "" {
		return SubscriptionQuery{}, false
	}
	return SubscriptionQuery{
		ProcessID: q.ProcessID,
		Kind:      q.SubscriptionKind,
		Name:      q.SubscriptionName,
	}, true
}

// SubscriptionQuery filters event subscriptions.
type SubscriptionQuery struct {
	ProcessID   string
	ExecutionID string
	Kind        SubscriptionKind
	Name        string
}

func (q SubscriptionQuery) Match(s *EventSubscription) bool {
	if q.ProcessID != "" && s.ProcessID != q.ProcessID {
		return false
	}
	if q.ExecutionID != "" && s.ExecutionID != q.ExecutionID {
		return false
	}
	if q.Kind != "" && s.Kind != q.Kind {
		return false
	}
	if q.Name != "" && s.Name != q.Name {
		return false
	}
	return true
}

// TaskQuery filters open user tasks.
type TaskQuery struct {
	TaskID      string
	ProcessID   string
	ExecutionID string
	ActivityID  string
	Assignee    string
}

func (q TaskQuery) Match(t *UserTask) bool {
	if q.TaskID != "" && t.ID != q.TaskID {
		return false
	}
	if q.ProcessID != "" && t.ProcessID != q.ProcessID {
		return false
	}
	if q.ExecutionID != "" && t.ExecutionID != q.ExecutionID {
		return false
	}
	if q.ActivityID != "" && t.ActivityID != q.ActivityID {
		return false
	}
	if q.Assignee != "" && t.Assignee != q.Assignee {
		return false
	}
	return true
}

// HistoryActivityQuery filters activity history. Results are ordered by start.
type HistoryActivityQuery struct {
	ProcessID string
	Activity  string
	Completed *bool
}

func (q HistoryActivityQuery) Match(h *HistoryActivity) bool {
	if q.ProcessID != "" && h.ExecutionID != q.ProcessID {
		return false
	}
	if q.Activity != "" && h.Activity != q.Activity {
		return false
	}
	if q.Completed != nil && h.Completed != *q.Completed {
		return false
	}
	return true
}

// Bool returns a pointer to b, for optional query fields.
func Bool(b bool) *bool {
	return &b
}
