package history

import (
	"context"
	"log/slog"

	"github.com/aretw0/bpmn/internal/logging"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

// Recorder writes history rows from lifecycle events.
type Recorder struct {
	logger *slog.Logger
}

var _ ports.Observer = (*Recorder)(nil)

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// NewRecorder creates a history recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe implements ports.Observer.
func (r *Recorder) Observe(ctx context.Context, tx ports.Tx, ev *domain.Event) error {
	at := ev.Time.UnixMilli()

	switch ev.Type {
	case domain.EventInstanceStarted:
		return tx.PutHistoryExecution(ctx, &domain.HistoryExecution{
			ID:           ev.ProcessID,
			ProcessID:    ev.ProcessID,
			DefinitionID: ev.DefinitionID,
			StartedAt:    at,
		})

	case domain.EventInstanceEnded:
		rec, err := tx.HistoryExecution(ctx, ev.ProcessID)
		if err != nil {
			return err
		}
		if rec.EndedAt != nil {
			return domain.Errorf(domain.ErrInvariantViolation, "history execution ended twice").At(ev.ProcessID, "", "")
		}
		rec.EndedAt, rec.Duration = r.closeSpan(rec.StartedAt, at, "process_id", ev.ProcessID)
		return tx.PutHistoryExecution(ctx, rec)

	case domain.EventActivityStarted:
		return tx.PutHistoryActivity(ctx, &domain.HistoryActivity{
			ID:          ev.RecordID,
			ExecutionID: ev.ProcessID,
			Activity:    ev.ActivityID,
			StartedAt:   at,
		})

	case domain.EventActivityEnded:
		rec, err := tx.HistoryActivity(ctx, ev.RecordID)
		if err != nil {
			return err
		}
		if rec.EndedAt != nil {
			return domain.Errorf(domain.ErrInvariantViolation, "history activity %q ended twice", rec.ID).At(ev.ProcessID, ev.ExecutionID, rec.Activity)
		}
		rec.EndedAt, rec.Duration = r.closeSpan(rec.StartedAt, at, "process_id", ev.ProcessID, "activity", rec.Activity)
		rec.Completed = ev.Completed
		return tx.PutHistoryActivity(ctx, rec)

	case domain.EventTaskCreated:
		task := ev.Task
		if err := tx.PutHistoryTask(ctx, &domain.HistoryTask{
			ID:            task.ID,
			ExecutionID:   ev.ProcessID,
			DefinitionKey: task.ActivityID,
			StartedAt:     at,
			Description:   task.Description,
			Assignee:      task.Assignee,
			Priority:      task.Priority,
		}); err != nil {
			return err
		}
		if ev.RecordID == "" {
			return nil
		}
		act, err := tx.HistoryActivity(ctx, ev.RecordID)
		if err != nil {
			return err
		}
		id := task.ID
		act.TaskID = &id
		return tx.PutHistoryActivity(ctx, act)

	case domain.EventTaskEnded:
		rec, err := tx.HistoryTask(ctx, ev.Task.ID)
		if err != nil {
			return err
		}
		if rec.EndedAt != nil {
			return domain.Errorf(domain.ErrInvariantViolation, "history task %q ended twice", rec.ID).At(ev.ProcessID, ev.ExecutionID, ev.ActivityID)
		}
		rec.EndedAt, rec.Duration = r.closeSpan(rec.StartedAt, at, "process_id", ev.ProcessID, "task_id", rec.ID)
		rec.Completed = ev.Completed
		r.logger.Debug("User task closed", "process_id", ev.ProcessID, "task_id", rec.ID, "completed", rec.Completed)
		return tx.PutHistoryTask(ctx, rec)
	}
	return nil
}

// closeSpan ends a span. History never rejects the call that ends it, so an
// end before the start is recorded with a zero duration.
func (r *Recorder) closeSpan(startedAt, at int64, attrs ...any) (*int64, *uint64) {
	end, duration, clamped := domain.CloseSpan(startedAt, at)
	if clamped {
		r.logger.Warn("Clock moved backwards, span closed with zero duration",
			append(attrs, "started_at", startedAt, "ended_at", at)...)
	}
	return end, duration
}

// CompletedActivities returns the node ids of the completed visits of an
// instance, in start order.
func CompletedActivities(ctx context.Context, tx ports.Tx, processID string) ([]string, error) {
	rows, err := tx.FindHistoryActivities(ctx, domain.HistoryActivityQuery{ProcessID: processID, Completed: domain.Bool(true)})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Activity)
	}
	return out, nil
}
