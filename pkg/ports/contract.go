package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Save and Load", func(t *testing.T) {
		inst := contractInstance(base)
		err := store.Update(ctx, func(tx Tx) error {
			return tx.SaveInstance(ctx, inst)
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), inst.Revision, "SaveInstance should bump the revision")

		var loaded *domain.Instance
		err = store.View(ctx, func(tx Tx) error {
			var err error
			loaded, err = tx.Instance(ctx, inst.ID)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, inst.ID, loaded.ID)
		assert.Equal(t, inst.DefinitionKey, loaded.DefinitionKey)
		assert.Equal(t, int64(1), loaded.Revision)
		assert.Len(t, loaded.Executions, 2)
		assert.Equal(t, "bar", loaded.Variables[inst.ID]["foo"])
		assert.True(t, loaded.Executions[inst.ID].IsScope)
		require.Len(t, loaded.Subscriptions, 1)
		assert.Equal(t, "Message1", loaded.Subscriptions[0].Name)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		err := store.View(ctx, func(tx Tx) error {
			_, err := tx.Instance(ctx, "missing-"+uuid.NewString())
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Optimistic Revision", func(t *testing.T) {
		inst := contractInstance(base)
		require.NoError(t, store.Update(ctx, func(tx Tx) error { return tx.SaveInstance(ctx, inst) }))

		stale := inst.Clone()
		stale.Revision = 0
		err := store.Update(ctx, func(tx Tx) error { return tx.SaveInstance(ctx, stale) })
		assert.ErrorIs(t, err, domain.ErrConflict, "re-inserting an existing instance must conflict")

		a := inst.Clone()
		b := inst.Clone()
		require.NoError(t, store.Update(ctx, func(tx Tx) error { return tx.SaveInstance(ctx, a) }))
		err = store.Update(ctx, func(tx Tx) error { return tx.SaveInstance(ctx, b) })
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("Rollback", func(t *testing.T) {
		inst := contractInstance(base)
		boom := errors.New("boom")
		err := store.Update(ctx, func(tx Tx) error {
			if err := tx.SaveInstance(ctx, inst); err != nil {
				return err
			}
			if err := tx.PutHistoryExecution(ctx, &domain.HistoryExecution{ID: inst.ID, ProcessID: inst.ID, StartedAt: 1}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = store.View(ctx, func(tx Tx) error {
			if _, err := tx.Instance(ctx, inst.ID); !errors.Is(err, domain.ErrNotFound) {
				return errors.New("instance survived rollback")
			}
			if _, err := tx.HistoryExecution(ctx, inst.ID); !errors.Is(err, domain.ErrNotFound) {
				return errors.New("history survived rollback")
			}
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("Queries", func(t *testing.T) {
		inst := contractInstance(base)
		require.NoError(t, store.Update(ctx, func(tx Tx) error { return tx.SaveInstance(ctx, inst) }))
		child := waitingChild(inst)

		err := store.View(ctx, func(tx Tx) error {
			execs, err := tx.FindExecutions(ctx, domain.ExecutionQuery{ProcessID: inst.ID, Waiting: domain.Bool(true)})
			require.NoError(t, err)
			require.Len(t, execs, 1)
			assert.Equal(t, child.ID, execs[0].ID)

			execs, err = tx.FindExecutions(ctx, domain.ExecutionQuery{ExecutionID: child.ID})
			require.NoError(t, err)
			require.Len(t, execs, 1)
			assert.Equal(t, inst.ID, execs[0].ProcessID)

			execs, err = tx.FindExecutions(ctx, domain.ExecutionQuery{ProcessID: inst.ID, Scope: domain.Bool(true)})
			require.NoError(t, err)
			require.Len(t, execs, 1)
			assert.Equal(t, inst.ID, execs[0].ID)

			execs, err = tx.FindExecutions(ctx, domain.ExecutionQuery{ProcessID: inst.ID, SubscriptionName: "Message1"})
			require.NoError(t, err)
			require.Len(t, execs, 1)
			assert.Equal(t, child.ID, execs[0].ID)

			execs, err = tx.FindExecutions(ctx, domain.ExecutionQuery{ProcessID: inst.ID, SubscriptionName: "Other"})
			require.NoError(t, err)
			assert.Empty(t, execs)

			subs, err := tx.FindSubscriptions(ctx, domain.SubscriptionQuery{ProcessID: inst.ID, Kind: domain.SubscriptionMessage, Name: "Message1"})
			require.NoError(t, err)
			require.Len(t, subs, 1)
			assert.Equal(t, child.ID, subs[0].ExecutionID)

			tasks, err := tx.FindTasks(ctx, domain.TaskQuery{TaskID: inst.Tasks[0].ID})
			require.NoError(t, err)
			require.Len(t, tasks, 1)
			assert.Equal(t, inst.ID, tasks[0].ProcessID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Index Rewrite", func(t *testing.T) {
		inst := contractInstance(base)
		inst.Subscriptions[0].Name = "Rewrite-" + uuid.NewString()
		subName, taskID, childID := inst.Subscriptions[0].Name, inst.Tasks[0].ID, waitingChild(inst).ID
		require.NoError(t, store.Update(ctx, func(tx Tx) error { return tx.SaveInstance(ctx, inst) }))

		err := store.View(ctx, func(tx Tx) error {
			subs, err := tx.FindSubscriptions(ctx, domain.SubscriptionQuery{Name: subName})
			require.NoError(t, err)
			require.Len(t, subs, 1)

			tasks, err := tx.FindTasks(ctx, domain.TaskQuery{TaskID: taskID})
			require.NoError(t, err)
			require.Len(t, tasks, 1)

			execs, err := tx.FindExecutions(ctx, domain.ExecutionQuery{SubscriptionName: subName})
			require.NoError(t, err)
			require.Len(t, execs, 1)
			assert.Equal(t, childID, execs[0].ID)
			return nil
		})
		require.NoError(t, err)

		inst.Subscriptions = nil
		inst.Tasks = nil
		waitingChild(inst).IsWaiting = false
		require.NoError(t, store.Update(ctx, func(tx Tx) error { return tx.SaveInstance(ctx, inst) }))

		err = store.View(ctx, func(tx Tx) error {
			subs, err := tx.FindSubscriptions(ctx, domain.SubscriptionQuery{ProcessID: inst.ID})
			require.NoError(t, err)
			assert.Empty(t, subs)

			tasks, err := tx.FindTasks(ctx, domain.TaskQuery{ProcessID: inst.ID})
			require.NoError(t, err)
			assert.Empty(t, tasks)

			execs, err := tx.FindExecutions(ctx, domain.ExecutionQuery{ProcessID: inst.ID, Waiting: domain.Bool(true)})
			require.NoError(t, err)
			assert.Empty(t, execs)

			subs, err = tx.FindSubscriptions(ctx, domain.SubscriptionQuery{Name: subName})
			require.NoError(t, err)
			assert.Empty(t, subs)

			tasks, err = tx.FindTasks(ctx, domain.TaskQuery{TaskID: taskID})
			require.NoError(t, err)
			assert.Empty(t, tasks)

			execs, err = tx.FindExecutions(ctx, domain.ExecutionQuery{ExecutionID: childID})
			require.NoError(t, err)
			require.Len(t, execs, 1)
			assert.False(t, execs[0].IsWaiting)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Subscription Order", func(t *testing.T) {
		name := "Ordered-" + uuid.NewString()
		first := contractInstance(base.Add(time.Second))
		second := contractInstance(base)
		first.Subscriptions[0].Name = name
		first.Subscriptions[0].CreatedAt = base.Add(2 * time.Second)
		second.Subscriptions[0].Name = name
		second.Subscriptions[0].CreatedAt = base.Add(time.Second)

		require.NoError(t, store.Update(ctx, func(tx Tx) error {
			if err := tx.SaveInstance(ctx, first); err != nil {
				return err
			}
			return tx.SaveInstance(ctx, second)
		}))

		err := store.View(ctx, func(tx Tx) error {
			subs, err := tx.FindSubscriptions(ctx, domain.SubscriptionQuery{Name: name})
			require.NoError(t, err)
			require.Len(t, subs, 2)
			assert.Equal(t, second.ID, subs[0].ProcessID, "oldest subscription first")
			assert.Equal(t, first.ID, subs[1].ProcessID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("History", func(t *testing.T) {
		processID := uuid.NewString()
		taskID := uuid.NewString()
		acts := []*domain.HistoryActivity{
			{ID: uuid.NewString(), ExecutionID: processID, Activity: "start", StartedAt: 100},
			{ID: uuid.NewString(), ExecutionID: processID, Activity: "review", StartedAt: 200, TaskID: &taskID},
			{ID: uuid.NewString(), ExecutionID: processID, Activity: "notify", StartedAt: 200},
		}

		err := store.Update(ctx, func(tx Tx) error {
			if err := tx.PutHistoryExecution(ctx, &domain.HistoryExecution{ID: processID, ProcessID: processID, DefinitionID: "def", StartedAt: 100}); err != nil {
				return err
			}
			if err := tx.PutHistoryTask(ctx, &domain.HistoryTask{ID: taskID, ExecutionID: processID, DefinitionKey: "review", StartedAt: 200, Assignee: "ana", Priority: 3}); err != nil {
				return err
			}
			for _, a := range acts {
				if err := tx.PutHistoryActivity(ctx, a); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		err = store.Update(ctx, func(tx Tx) error {
			rec, err := tx.HistoryActivity(ctx, acts[0].ID)
			if err != nil {
				return err
			}
			rec.EndedAt, rec.Duration, _ = domain.CloseSpan(rec.StartedAt, 150)
			rec.Completed = true
			return tx.PutHistoryActivity(ctx, rec)
		})
		require.NoError(t, err)

		err = store.View(ctx, func(tx Tx) error {
			rows, err := tx.FindHistoryActivities(ctx, domain.HistoryActivityQuery{ProcessID: processID})
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, "start", rows[0].Activity)
			assert.Equal(t, "review", rows[1].Activity)
			assert.Equal(t, "notify", rows[2].Activity)
			require.NotNil(t, rows[0].EndedAt)
			assert.Equal(t, int64(150), *rows[0].EndedAt)
			assert.Equal(t, uint64(50), *rows[0].Duration)
			require.NotNil(t, rows[1].TaskID)
			assert.Equal(t, taskID, *rows[1].TaskID)
			assert.Nil(t, rows[2].Duration)

			done, err := tx.FindHistoryActivities(ctx, domain.HistoryActivityQuery{ProcessID: processID, Completed: domain.Bool(true)})
			require.NoError(t, err)
			assert.Len(t, done, 1)

			task, err := tx.HistoryTask(ctx, taskID)
			require.NoError(t, err)
			assert.Equal(t, "ana", task.Assignee)
			assert.Equal(t, 3, task.Priority)

			tasks, err := tx.FindHistoryTasks(ctx, processID)
			require.NoError(t, err)
			assert.Len(t, tasks, 1)

			he, err := tx.HistoryExecution(ctx, processID)
			require.NoError(t, err)
			assert.Equal(t, "def", he.DefinitionID)
			assert.Nil(t, he.EndedAt)
			return nil
		})
		require.NoError(t, err)
	})
}

func contractInstance(now time.Time) *domain.Instance {
	id := uuid.NewString()
	childID := uuid.NewString()
	return &domain.Instance{
		ID:            id,
		DefinitionID:  "contract:1",
		DefinitionKey: "contract",
		Executions: map[string]*domain.Execution{
			id: {
				ID: id, ProcessID: id, IsScope: true, State: domain.StateEntered, CreatedAt: now,
			},
			childID: {
				ID: childID, ParentID: id, ProcessID: id, ActivityID: "wait",
				IsActive: true, IsWaiting: true, IsConcurrent: true, State: domain.StateWaiting,
				CreatedAt: now.Add(time.Millisecond),
			},
		},
		Variables: map[string]map[string]any{id: {"foo": "bar"}},
		Subscriptions: []domain.EventSubscription{{
			ID: uuid.NewString(), ProcessID: id, ExecutionID: childID,
			Kind: domain.SubscriptionMessage, Name: "Message1", ActivityID: "wait", CreatedAt: now,
		}},
		Tasks: []domain.UserTask{{
			ID: uuid.NewString(), ProcessID: id, ExecutionID: childID, ActivityID: "wait", Name: "Wait", CreatedAt: now,
		}},
		StartedAt: now,
	}
}

func waitingChild(inst *domain.Instance) *domain.Execution {
	for _, e := range inst.Executions {
		if e.ParentID != "" {
			return e
		}
	}
	return nil
}
