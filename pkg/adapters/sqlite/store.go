// Package sqlite implements ports.Store on SQLite through database/sql.
//
// Instances are stored as JSON documents in bpm_instance. Executions, event
// subscriptions and user tasks are projected into index tables on every save
// so queries run in SQL. History rows live in the history_* tables.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

// DriverName is the database/sql driver used by Open.
const DriverName = "sqlite3"

// Store implements ports.Store.
type Store struct {
	db      *sql.DB
	version int
}

// Open opens the database at dsn and migrates it. Use ":memory:" for a
// private in-memory database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return s, nil
}

// New migrates db and wraps it. SQLite allows a single writer, so the pool is
// limited to one connection and transactions queue on it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	db.SetMaxOpenConns(1)
	version, err := migrate(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, version: version}, nil
}

// SchemaVersion returns the migration version the database is at.
func (s *Store) SchemaVersion() int {
	return s.version
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(tx ports.Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx ports.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx ports.Tx) error) error {
	stx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&tx{tx: stx}); err != nil {
		return multierr.Append(err, ignoreDone(stx.Rollback()))
	}
	if readOnly {
		return stx.Rollback()
	}
	return stx.Commit()
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) Instance(ctx context.Context, id string) (*domain.Instance, error) {
	var data []byte
	err := t.tx.QueryRowContext(ctx, `SELECT data FROM bpm_instance WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrNotFound, "instance %q", id)
	}
	if err != nil {
		return nil, err
	}
	var inst domain.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to decode instance %q: %w", id, err)
	}
	return &inst, nil
}

func (t *tx) SaveInstance(ctx context.Context, inst *domain.Instance) (err error) {
	var current int64
	err = t.tx.QueryRowContext(ctx, `SELECT revision FROM bpm_instance WHERE id = ?`, inst.ID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if current != inst.Revision {
		return domain.Errorf(domain.ErrConflict, "instance %q is at revision %d, not %d", inst.ID, current, inst.Revision)
	}

	inst.Revision++
	defer func() {
		if err != nil {
			inst.Revision--
		}
	}()

	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance %q: %w", inst.ID, err)
	}
	if _, err = t.tx.ExecContext(ctx,
		`INSERT INTO bpm_instance (id, definition_id, definition_key, business_key, revision, started_at, ended_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			revision = excluded.revision,
			ended_at = excluded.ended_at,
			data = excluded.data`,
		inst.ID, inst.DefinitionID, inst.DefinitionKey, inst.BusinessKey, inst.Revision,
		inst.StartedAt.UnixNano(), nanos(inst.EndedAt), data,
	); err != nil {
		return err
	}
	return t.reindex(ctx, inst)
}

// reindex replaces the index rows of inst.
func (t *tx) reindex(ctx context.Context, inst *domain.Instance) error {
	for _, table := range []string{"bpm_execution", "bpm_event_subscription", "bpm_user_task"} {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE process_id = ?`, inst.ID); err != nil {
			return err
		}
	}

	for _, e := range inst.Executions {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO bpm_execution (id, process_id, parent_id, activity_id, is_scope, is_active, is_waiting, is_concurrent, state, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, inst.ID, e.ParentID, e.ActivityID, e.IsScope, e.IsActive, e.IsWaiting, e.IsConcurrent, string(e.State), e.CreatedAt.UnixNano(),
		); err != nil {
			return err
		}
	}
	for _, s := range inst.Subscriptions {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO bpm_event_subscription (id, process_id, execution_id, kind, name, activity_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ID, inst.ID, s.ExecutionID, string(s.Kind), s.Name, s.ActivityID, s.CreatedAt.UnixNano(),
		); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return domain.Errorf(domain.ErrDuplicateSubscription, "%s %q", s.Kind, s.Name).At(inst.ID, s.ExecutionID, s.ActivityID).Wrap(err)
			}
			return err
		}
	}
	for _, task := range inst.Tasks {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO bpm_user_task (id, process_id, execution_id, activity_id, name, description, assignee, priority, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, inst.ID, task.ExecutionID, task.ActivityID, task.Name, task.Description, task.Assignee, task.Priority, task.CreatedAt.UnixNano(),
		); err != nil {
			return err
		}
	}
	return nil
}

// where accumulates optional filter clauses.
type where struct {
	clauses []string
	args    []any
}

func (w *where) eq(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

func (w *where) flag(column string, value *bool) {
	if value != nil {
		w.add(column+" = ?", *value)
	}
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (t *tx) FindExecutions(ctx context.Context, q domain.ExecutionQuery) ([]domain.Execution, error) {
	var w where
	w.eq("id", q.ExecutionID)
	w.eq("process_id", q.ProcessID)
	w.eq("activity_id", q.ActivityID)
	w.flag("is_waiting", q.Waiting)
	w.flag("is_scope", q.Scope)
	w.flag("is_active", q.Active)
	if sq, ok := q.Subscriptions(); ok {
		var sw where
		sw.eq("process_id", sq.ProcessID)
		sw.eq("kind", string(sq.Kind))
		sw.eq("name", sq.Name)
		w.add("id IN (SELECT execution_id FROM bpm_event_subscription"+sw.String()+")", sw.args...)
	}

	rows, err := t.tx.QueryContext(ctx, `SELECT process_id, id FROM bpm_execution`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	type ref struct{ processID, id string }
	var refs []ref
	for rows.Next() {
		var r ref
		if err := rows.Scan(&r.processID, &r.id); err != nil {
			return nil, multierr.Append(err, rows.Close())
		}
		refs = append(refs, r)
	}
	if err := multierr.Append(rows.Err(), rows.Close()); err != nil {
		return nil, err
	}

	loaded := make(map[string]*domain.Instance)
	out := make([]domain.Execution, 0, len(refs))
	for _, r := range refs {
		inst, ok := loaded[r.processID]
		if !ok {
			if inst, err = t.Instance(ctx, r.processID); err != nil {
				return nil, err
			}
			loaded[r.processID] = inst
		}
		e, ok := inst.Executions[r.id]
		if !ok {
			return nil, domain.Errorf(domain.ErrInvariantViolation, "execution index out of sync").At(r.processID, r.id, "")
		}
		out = append(out, *e)
	}
	return out, nil
}

func (t *tx) FindSubscriptions(ctx context.Context, q domain.SubscriptionQuery) ([]domain.EventSubscription, error) {
	var w where
	w.eq("process_id", q.ProcessID)
	w.eq("execution_id", q.ExecutionID)
	w.eq("kind", string(q.Kind))
	w.eq("name", q.Name)

	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, process_id, execution_id, kind, name, activity_id, created_at
		FROM bpm_event_subscription`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventSubscription
	for rows.Next() {
		var (
			s       domain.EventSubscription
			kind    string
			created int64
		)
		if err := rows.Scan(&s.ID, &s.ProcessID, &s.ExecutionID, &kind, &s.Name, &s.ActivityID, &created); err != nil {
			return nil, err
		}
		s.Kind = domain.SubscriptionKind(kind)
		s.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *tx) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.UserTask, error) {
	var w where
	w.eq("id", q.TaskID)
	w.eq("process_id", q.ProcessID)
	w.eq("execution_id", q.ExecutionID)
	w.eq("activity_id", q.ActivityID)
	w.eq("assignee", q.Assignee)

	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, process_id, execution_id, activity_id, name, description, assignee, priority, created_at
		FROM bpm_user_task`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserTask
	for rows.Next() {
		var (
			task                  domain.UserTask
			description, assignee sql.NullString
			created               int64
		)
		if err := rows.Scan(&task.ID, &task.ProcessID, &task.ExecutionID, &task.ActivityID, &task.Name,
			&description, &assignee, &task.Priority, &created); err != nil {
			return nil, err
		}
		task.Description = description.String
		task.Assignee = assignee.String
		task.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, task)
	}
	return out, rows.Err()
}

// nanos maps an optional time to a nullable column value.
func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
