// Package bolt implements ports.Store on top of a bbolt database file.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
)

var (
	// instanceBucket maps process instance ids to JSON encoded domain.Instance values.
	instanceBucket = []byte("instance")

	// The history buckets map record ids to JSON encoded records. Activity and
	// task records carry the bucket sequence at insertion to keep their order.
	historyExecutionBucket = []byte("history_execution")
	historyTaskBucket      = []byte("history_task")
	historyActivityBucket  = []byte("history_activity")

	// The index buckets resolve runtime lookups to the owning instance:
	// execution and task ids map to process ids, and subscription keys
	// (event name, 0x00, process id) list the instances waiting on a name.
	executionIndexBucket    = []byte("index_execution")
	taskIndexBucket         = []byte("index_task")
	subscriptionIndexBucket = []byte("index_subscription")

	buckets      = [][]byte{instanceBucket, historyExecutionBucket, historyTaskBucket, historyActivityBucket}
	indexBuckets = [][]byte{executionIndexBucket, taskIndexBucket, subscriptionIndexBucket}
)

// Store implements ports.Store using bbolt. Every Update is one bbolt
// read-write transaction; bbolt serializes writers.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := *bbolt.DefaultOptions
	opts.Timeout = time.Second
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
	}

	db, err := bbolt.Open(path, os.FileMode(0600), &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %q: %w", path, err)
	}
	s, err := New(db)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return s, nil
}

// New wraps an open database, creating the buckets it needs. Indexes missing
// from files written by older versions are rebuilt from the instances.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(btx *bbolt.Tx) error {
		for _, b := range buckets {
			if _, err := btx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		rebuild := false
		for _, b := range indexBuckets {
			if btx.Bucket(b) != nil {
				continue
			}
			if _, err := btx.CreateBucket(b); err != nil {
				return err
			}
			rebuild = true
		}
		if !rebuild {
			return nil
		}
		t := &tx{btx: btx}
		insts, err := t.instances("")
		if err != nil {
			return err
		}
		for _, inst := range insts {
			if err := t.index(nil, inst); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&tx{btx: btx})
	})
}

func (s *Store) View(ctx context.Context, fn func(tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&tx{btx: btx})
	})
}

type tx struct {
	btx *bbolt.Tx
}

// sequenced wraps ordered history records.
type sequenced[T any] struct {
	Seq    uint64 `json:"seq"`
	Record T      `json:"record"`
}

func get[T any](b *bbolt.Bucket, id, what string) (*T, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, domain.Errorf(domain.ErrNotFound, "%s %q", what, id)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s %q: %w", what, id, err)
	}
	return &v, nil
}

func put(b *bbolt.Bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", id, err)
	}
	return b.Put([]byte(id), data)
}

// putSequenced keeps the sequence of an existing record and assigns the next
// one to a new record.
func putSequenced[T any](b *bbolt.Bucket, id string, rec T) error {
	var seq uint64
	if existing, err := get[sequenced[T]](b, id, "record"); err == nil {
		seq = existing.Seq
	} else if domain.IsNotFound(err) {
		if seq, err = b.NextSequence(); err != nil {
			return err
		}
	} else {
		return err
	}
	return put(b, id, sequenced[T]{Seq: seq, Record: rec})
}

func (t *tx) Instance(ctx context.Context, id string) (*domain.Instance, error) {
	return get[domain.Instance](t.btx.Bucket(instanceBucket), id, "instance")
}

func (t *tx) SaveInstance(ctx context.Context, inst *domain.Instance) error {
	b := t.btx.Bucket(instanceBucket)
	var current int64
	stored, err := get[domain.Instance](b, inst.ID, "instance")
	switch {
	case err == nil:
		current = stored.Revision
	case domain.IsNotFound(err):
		stored = nil
	default:
		return err
	}
	if current != inst.Revision {
		return domain.Errorf(domain.ErrConflict, "instance %q is at revision %d, not %d", inst.ID, current, inst.Revision)
	}

	inst.Revision++
	if err := put(b, inst.ID, inst); err != nil {
		inst.Revision--
		return err
	}
	if err := t.index(stored, inst); err != nil {
		inst.Revision--
		return err
	}
	return nil
}

func subscriptionKey(name, processID string) []byte {
	return []byte(name + "\x00" + processID)
}

// index replaces the index entries of prev (nil for a new instance) with
// those of inst.
func (t *tx) index(prev, inst *domain.Instance) error {
	execs := t.btx.Bucket(executionIndexBucket)
	tasks := t.btx.Bucket(taskIndexBucket)
	subs := t.btx.Bucket(subscriptionIndexBucket)

	if prev != nil {
		for id := range prev.Executions {
			if err := execs.Delete([]byte(id)); err != nil {
				return err
			}
		}
		for _, task := range prev.Tasks {
			if err := tasks.Delete([]byte(task.ID)); err != nil {
				return err
			}
		}
		for _, sub := range prev.Subscriptions {
			if err := subs.Delete(subscriptionKey(sub.Name, prev.ID)); err != nil {
				return err
			}
		}
	}

	pid := []byte(inst.ID)
	for id := range inst.Executions {
		if err := execs.Put([]byte(id), pid); err != nil {
			return err
		}
	}
	for _, task := range inst.Tasks {
		if err := tasks.Put([]byte(task.ID), pid); err != nil {
			return err
		}
	}
	for _, sub := range inst.Subscriptions {
		if err := subs.Put(subscriptionKey(sub.Name, inst.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// owner returns the process id an index bucket maps id to.
func (t *tx) owner(bucket []byte, id string) []string {
	if pid := t.btx.Bucket(bucket).Get([]byte(id)); pid != nil {
		return []string{string(pid)}
	}
	return nil
}

// subscribers returns the process ids holding a subscription named name.
func (t *tx) subscribers(name string) []string {
	prefix := []byte(name + "\x00")
	var out []string
	c := t.btx.Bucket(subscriptionIndexBucket).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		out = append(out, string(k[len(prefix):]))
	}
	return out
}

// candidates returns the instances a query can match. A process id pins one
// instance; otherwise lookup may narrow the set through an index, and every
// instance is decoded only when it cannot.
func (t *tx) candidates(processID string, lookup func() ([]string, bool)) ([]*domain.Instance, error) {
	if processID != "" {
		return t.instances(processID)
	}
	ids, ok := lookup()
	if !ok {
		return t.instances("")
	}
	b := t.btx.Bucket(instanceBucket)
	out := make([]*domain.Instance, 0, len(ids))
	for _, id := range ids {
		inst, err := get[domain.Instance](b, id, "instance")
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// instances decodes every instance matching processID (all when empty).
func (t *tx) instances(processID string) ([]*domain.Instance, error) {
	b := t.btx.Bucket(instanceBucket)
	if processID != "" {
		inst, err := get[domain.Instance](b, processID, "instance")
		if domain.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []*domain.Instance{inst}, nil
	}

	var out []*domain.Instance
	err := b.ForEach(func(k, v []byte) error {
		var inst domain.Instance
		if err := json.Unmarshal(v, &inst); err != nil {
			return fmt.Errorf("failed to decode instance %q: %w", k, err)
		}
		out = append(out, &inst)
		return nil
	})
	return out, err
}

func (t *tx) FindExecutions(ctx context.Context, q domain.ExecutionQuery) ([]domain.Execution, error) {
	var subscribed map[string]bool
	if sq, ok := q.Subscriptions(); ok {
		subs, err := t.FindSubscriptions(ctx, sq)
		if err != nil {
			return nil, err
		}
		subscribed = make(map[string]bool, len(subs))
		for _, s := range subs {
			subscribed[s.ExecutionID] = true
		}
	}

	insts, err := t.candidates(q.ProcessID, func() ([]string, bool) {
		switch {
		case q.ExecutionID != "":
			return t.owner(executionIndexBucket, q.ExecutionID), true
		case q.SubscriptionName != "":
			return t.subscribers(q.SubscriptionName), true
		}
		return nil, false
	})
	if err != nil {
		return nil, err
	}
	var out []domain.Execution
	for _, inst := range insts {
		for _, e := range inst.Executions {
			if q.Match(e) && (subscribed == nil || subscribed[e.ID]) {
				out = append(out, *e)
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return before(out[a].CreatedAt, out[a].ID, out[b].CreatedAt, out[b].ID)
	})
	return out, nil
}

func (t *tx) FindSubscriptions(ctx context.Context, q domain.SubscriptionQuery) ([]domain.EventSubscription, error) {
	insts, err := t.candidates(q.ProcessID, func() ([]string, bool) {
		switch {
		case q.ExecutionID != "":
			return t.owner(executionIndexBucket, q.ExecutionID), true
		case q.Name != "":
			return t.subscribers(q.Name), true
		}
		return nil, false
	})
	if err != nil {
		return nil, err
	}
	var out []domain.EventSubscription
	for _, inst := range insts {
		for i := range inst.Subscriptions {
			if q.Match(&inst.Subscriptions[i]) {
				out = append(out, inst.Subscriptions[i])
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return before(out[a].CreatedAt, out[a].ID, out[b].CreatedAt, out[b].ID)
	})
	return out, nil
}

func (t *tx) FindTasks(ctx context.Context, q domain.TaskQuery) ([]domain.UserTask, error) {
	insts, err := t.candidates(q.ProcessID, func() ([]string, bool) {
		switch {
		case q.TaskID != "":
			return t.owner(taskIndexBucket, q.TaskID), true
		case q.ExecutionID != "":
			return t.owner(executionIndexBucket, q.ExecutionID), true
		}
		return nil, false
	})
	if err != nil {
		return nil, err
	}
	var out []domain.UserTask
	for _, inst := range insts {
		for i := range inst.Tasks {
			if q.Match(&inst.Tasks[i]) {
				out = append(out, inst.Tasks[i])
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return before(out[a].CreatedAt, out[a].ID, out[b].CreatedAt, out[b].ID)
	})
	return out, nil
}

func before(at time.Time, id string, bt time.Time, bid string) bool {
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return id < bid
}

func (t *tx) HistoryExecution(ctx context.Context, id string) (*domain.HistoryExecution, error) {
	return get[domain.HistoryExecution](t.btx.Bucket(historyExecutionBucket), id, "history execution")
}

func (t *tx) PutHistoryExecution(ctx context.Context, rec *domain.HistoryExecution) error {
	return put(t.btx.Bucket(historyExecutionBucket), rec.ID, rec)
}

func (t *tx) HistoryTask(ctx context.Context, id string) (*domain.HistoryTask, error) {
	s, err := get[sequenced[domain.HistoryTask]](t.btx.Bucket(historyTaskBucket), id, "history task")
	if err != nil {
		return nil, err
	}
	return &s.Record, nil
}

func (t *tx) PutHistoryTask(ctx context.Context, rec *domain.HistoryTask) error {
	return putSequenced(t.btx.Bucket(historyTaskBucket), rec.ID, *rec)
}

func (t *tx) FindHistoryTasks(ctx context.Context, processID string) ([]domain.HistoryTask, error) {
	rows, err := scan[domain.HistoryTask](t.btx.Bucket(historyTaskBucket), func(r *domain.HistoryTask) bool {
		return r.ExecutionID == processID
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryTask, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out, nil
}

func (t *tx) HistoryActivity(ctx context.Context, id string) (*domain.HistoryActivity, error) {
	s, err := get[sequenced[domain.HistoryActivity]](t.btx.Bucket(historyActivityBucket), id, "history activity")
	if err != nil {
		return nil, err
	}
	return &s.Record, nil
}

func (t *tx) PutHistoryActivity(ctx context.Context, rec *domain.HistoryActivity) error {
	return putSequenced(t.btx.Bucket(historyActivityBucket), rec.ID, *rec)
}

func (t *tx) FindHistoryActivities(ctx context.Context, q domain.HistoryActivityQuery) ([]domain.HistoryActivity, error) {
	rows, err := scan[domain.HistoryActivity](t.btx.Bucket(historyActivityBucket), q.Match)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].Record.StartedAt < rows[b].Record.StartedAt
	})
	out := make([]domain.HistoryActivity, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out, nil
}

// scan returns the matching records of b in insertion order.
func scan[T any](b *bbolt.Bucket, match func(*T) bool) ([]sequenced[T], error) {
	var out []sequenced[T]
	err := b.ForEach(func(k, v []byte) error {
		var s sequenced[T]
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("failed to decode %q: %w", k, err)
		}
		if match(&s.Record) {
			out = append(out, s)
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, err
}
