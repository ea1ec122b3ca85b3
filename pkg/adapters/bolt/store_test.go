package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aretw0/bpmn/pkg/adapters/bolt"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openStore(t *testing.T, path string) *bolt.Store {
	t.Helper()
	s, err := bolt.Open(context.Background(), path)
	require.NoError(t, err)
	return s
}

func TestBoltStore_Contract(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "bpmn.db"))
	t.Cleanup(func() { _ = s.Close() })

	ports.RunStoreContract(t, s)
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bpmn.db")
	ctx := context.Background()

	s := openStore(t, path)
	err := s.Update(ctx, func(tx ports.Tx) error {
		if err := tx.SaveInstance(ctx, &domain.Instance{
			ID:            "p1",
			DefinitionKey: "order",
			Executions:    map[string]*domain.Execution{"p1": {ID: "p1", ProcessID: "p1", IsScope: true}},
			Variables:     map[string]map[string]any{"p1": {"amount": 10}},
		}); err != nil {
			return err
		}
		return tx.PutHistoryActivity(ctx, &domain.HistoryActivity{ID: "a1", ExecutionID: "p1", Activity: "start", StartedAt: 1})
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openStore(t, path)
	defer s.Close()

	err = s.View(ctx, func(tx ports.Tx) error {
		inst, err := tx.Instance(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), inst.Revision)
		assert.Equal(t, float64(10), inst.Variables["p1"]["amount"], "numbers decode as float64")

		rows, err := tx.FindHistoryActivities(ctx, domain.HistoryActivityQuery{ProcessID: "p1"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "start", rows[0].Activity)
		return nil
	})
	require.NoError(t, err)
}

func TestBoltStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bolt.Open(ctx, filepath.Join(t.TempDir(), "bpmn.db"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBoltStore_RebuildsMissingIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bpmn.db")
	ctx := context.Background()

	s := openStore(t, path)
	err := s.Update(ctx, func(tx ports.Tx) error {
		return tx.SaveInstance(ctx, &domain.Instance{
			ID: "p1",
			Executions: map[string]*domain.Execution{
				"p1": {ID: "p1", ProcessID: "p1", IsScope: true},
				"c1": {ID: "c1", ParentID: "p1", ProcessID: "p1", ActivityID: "wait", IsActive: true, IsWaiting: true},
			},
			Variables:     map[string]map[string]any{"p1": {}},
			Subscriptions: []domain.EventSubscription{{ID: "s1", ProcessID: "p1", ExecutionID: "c1", Kind: domain.SubscriptionSignal, Name: "go"}},
			Tasks:         []domain.UserTask{{ID: "t1", ProcessID: "p1", ExecutionID: "c1", ActivityID: "wait"}},
		})
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Drop the index buckets, as in files written before they existed.
	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(btx *bbolt.Tx) error {
		for _, name := range []string{"index_execution", "index_task", "index_subscription"} {
			if err := btx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, db.Close())

	s = openStore(t, path)
	defer s.Close()

	err = s.View(ctx, func(tx ports.Tx) error {
		execs, err := tx.FindExecutions(ctx, domain.ExecutionQuery{ExecutionID: "c1"})
		require.NoError(t, err)
		require.Len(t, execs, 1)
		assert.Equal(t, "wait", execs[0].ActivityID)

		subs, err := tx.FindSubscriptions(ctx, domain.SubscriptionQuery{Name: "go"})
		require.NoError(t, err)
		require.Len(t, subs, 1)

		tasks, err := tx.FindTasks(ctx, domain.TaskQuery{TaskID: "t1"})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		return nil
	})
	require.NoError(t, err)
}
