package domain

// HistoryExecution is the audit span of one process instance.
// Timestamps are epoch milliseconds; Duration is nil until the span ends.
type HistoryExecution struct {
	ID           string  `json:"id"`
	ProcessID    string  `json:"process_id"`
	DefinitionID string  `json:"definition_id"`
	StartedAt    int64   `json:"started_at"`
	EndedAt      *int64  `json:"ended_at,omitempty"`
	Duration     *uint64 `json:"duration,omitempty"`
}

// HistoryTask is the audit span of one user task instance.
// ExecutionID references the owning process instance.
type HistoryTask struct {
	ID            string  `json:"id"`
	ExecutionID   string  `json:"execution_id"`
	DefinitionKey string  `json:"definition_key"`
	StartedAt     int64   `json:"started_at"`
	EndedAt       *int64  `json:"ended_at,omitempty"`
	Duration      *uint64 `json:"duration,omitempty"`
	Completed     bool    `json:"completed"`
	Description   string  `json:"description,omitempty"`
	Assignee      string  `json:"assignee,omitempty"`
	Priority      int     `json:"priority"`
}

// HistoryActivity is the audit span of one node visit.
// ExecutionID references the owning process instance.
type HistoryActivity struct {
	ID          string  `json:"id"`
	ExecutionID string  `json:"execution_id"`
	TaskID      *string `json:"task_id,omitempty"`
	Activity    string  `json:"activity"`
	StartedAt   int64   `json:"started_at"`
	EndedAt     *int64  `json:"ended_at,omitempty"`
	Duration    *uint64 `json:"duration,omitempty"`
	Completed   bool    `json:"completed"`
}

// Span is implemented by every history record with a start and an optional end.
type Span interface {
	Started() int64
	Ended() (int64, bool)
}

func (h HistoryExecution) Started() int64 { return h.StartedAt }
func (h HistoryTask) Started() int64      { return h.StartedAt }
func (h HistoryActivity) Started() int64  { return h.StartedAt }

func (h HistoryExecution) Ended() (int64, bool) { return deref(h.EndedAt) }
func (h HistoryTask) Ended() (int64, bool)      { return deref(h.EndedAt) }
func (h HistoryActivity) Ended() (int64, bool)  { return deref(h.EndedAt) }

func deref(p *int64) (int64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

// CloseSpan computes the end timestamp and duration of a span.
// An end before the start (a clock stepping backwards) is clamped to the
// start with a zero duration, and clamped reports it.
func CloseSpan(startedAt, endedAt int64) (end *int64, duration *uint64, clamped bool) {
	if endedAt < startedAt {
		endedAt, clamped = startedAt, true
	}
	d := uint64(endedAt - startedAt)
	return &endedAt, &d, clamped
}
