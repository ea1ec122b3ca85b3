package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aretw0/bpmn/pkg/domain"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func span(ended, duration sql.NullInt64) (*int64, *uint64) {
	if !ended.Valid {
		return nil, nil
	}
	e := ended.Int64
	if !duration.Valid {
		return &e, nil
	}
	d := uint64(duration.Int64)
	return &e, &d
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullDuration(p *uint64) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func (t *tx) HistoryExecution(ctx context.Context, id string) (*domain.HistoryExecution, error) {
	var (
		rec             domain.HistoryExecution
		ended, duration sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, process_id, definition_id, started_at, ended_at, duration
		FROM history_execution WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.ProcessID, &rec.DefinitionID, &rec.StartedAt, &ended, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrNotFound, "history execution %q", id)
	}
	if err != nil {
		return nil, err
	}
	rec.EndedAt, rec.Duration = span(ended, duration)
	return &rec, nil
}

func (t *tx) PutHistoryExecution(ctx context.Context, rec *domain.HistoryExecution) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO history_execution (id, process_id, definition_id, started_at, ended_at, duration)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = excluded.ended_at,
			duration = excluded.duration`,
		rec.ID, rec.ProcessID, rec.DefinitionID, rec.StartedAt, nullInt(rec.EndedAt), nullDuration(rec.Duration),
	)
	return err
}

const historyTaskColumns = `id, execution_id, definition_key, started_at, ended_at, duration, completed, description, assignee, priority`

func scanHistoryTask(s scanner) (*domain.HistoryTask, error) {
	var (
		rec                                domain.HistoryTask
		execID, key, description, assignee sql.NullString
		ended, duration                    sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &execID, &key, &rec.StartedAt, &ended, &duration, &rec.Completed, &description, &assignee, &rec.Priority); err != nil {
		return nil, err
	}
	rec.ExecutionID = execID.String
	rec.DefinitionKey = key.String
	rec.Description = description.String
	rec.Assignee = assignee.String
	rec.EndedAt, rec.Duration = span(ended, duration)
	return &rec, nil
}

func (t *tx) HistoryTask(ctx context.Context, id string) (*domain.HistoryTask, error) {
	rec, err := scanHistoryTask(t.tx.QueryRowContext(ctx, `SELECT `+historyTaskColumns+` FROM history_task WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrNotFound, "history task %q", id)
	}
	return rec, err
}

func (t *tx) PutHistoryTask(ctx context.Context, rec *domain.HistoryTask) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO history_task (`+historyTaskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = excluded.ended_at,
			duration = excluded.duration,
			completed = excluded.completed,
			description = excluded.description,
			assignee = excluded.assignee,
			priority = excluded.priority`,
		rec.ID, rec.ExecutionID, rec.DefinitionKey, rec.StartedAt, nullInt(rec.EndedAt), nullDuration(rec.Duration),
		rec.Completed, rec.Description, rec.Assignee, rec.Priority,
	)
	return err
}

func (t *tx) FindHistoryTasks(ctx context.Context, processID string) ([]domain.HistoryTask, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+historyTaskColumns+` FROM history_task WHERE execution_id = ? ORDER BY rowid`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryTask
	for rows.Next() {
		rec, err := scanHistoryTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

const historyActivityColumns = `id, execution_id, task_id, activity, started_at, ended_at, duration, completed`

func scanHistoryActivity(s scanner) (*domain.HistoryActivity, error) {
	var (
		rec             domain.HistoryActivity
		taskID          sql.NullString
		ended, duration sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &rec.ExecutionID, &taskID, &rec.Activity, &rec.StartedAt, &ended, &duration, &rec.Completed); err != nil {
		return nil, err
	}
	if taskID.Valid {
		id := taskID.String
		rec.TaskID = &id
	}
	rec.EndedAt, rec.Duration = span(ended, duration)
	return &rec, nil
}

func (t *tx) HistoryActivity(ctx context.Context, id string) (*domain.HistoryActivity, error) {
	rec, err := scanHistoryActivity(t.tx.QueryRowContext(ctx, `SELECT `+historyActivityColumns+` FROM history_activity WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrNotFound, "history activity %q", id)
	}
	return rec, err
}

func (t *tx) PutHistoryActivity(ctx context.Context, rec *domain.HistoryActivity) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO history_activity (`+historyActivityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			task_id = excluded.task_id,
			ended_at = excluded.ended_at,
			duration = excluded.duration,
			completed = excluded.completed`,
		rec.ID, rec.ExecutionID, nullString(rec.TaskID), rec.Activity, rec.StartedAt, nullInt(rec.EndedAt), nullDuration(rec.Duration), rec.Completed,
	)
	return err
}

func (t *tx) FindHistoryActivities(ctx context.Context, q domain.HistoryActivityQuery) ([]domain.HistoryActivity, error) {
	var w where
	w.eq("execution_id", q.ProcessID)
	w.eq("activity", q.Activity)
	w.flag("completed", q.Completed)

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+historyActivityColumns+` FROM history_activity`+w.String()+` ORDER BY started_at, rowid`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.HistoryActivity
	for rows.Next() {
		rec, err := scanHistoryActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
