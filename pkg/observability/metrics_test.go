package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/bpmn"
	"github.com/aretw0/bpmn/pkg/adapters/memory"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/dsl"
	"github.com/aretw0/bpmn/pkg/history"
	"github.com/aretw0/bpmn/pkg/observability"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	recorder := history.NewRecorder()
	store := memory.NewStore()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	events := []domain.Event{
		{Type: domain.EventInstanceStarted, Time: t0},
		{Type: domain.EventActivityStarted, Time: t0, ActivityID: "review", NodeKind: domain.KindUserTask, RecordID: "r1"},
		{Type: domain.EventTaskCreated, Time: t0, ActivityID: "review", RecordID: "r1", Task: &domain.UserTask{ID: "t1", ActivityID: "review"}},
		{Type: domain.EventSubscriptionCreated, Time: t0, Subscription: &domain.EventSubscription{Kind: domain.SubscriptionMessage, Name: "paid"}},
		{Type: domain.EventSubscriptionRemoved, Time: t0.Add(time.Second), Subscription: &domain.EventSubscription{Kind: domain.SubscriptionMessage, Name: "paid"}},
		{Type: domain.EventTaskEnded, Time: t0.Add(2 * time.Second), Completed: true, Task: &domain.UserTask{ID: "t1", ActivityID: "review"}},
		{Type: domain.EventActivityEnded, Time: t0.Add(2 * time.Second), ActivityID: "review", RecordID: "r1", Completed: true},
		{Type: domain.EventMessageThrown, Time: t0.Add(2 * time.Second), ActivityID: "notify"},
		{Type: domain.EventInstanceEnded, Time: t0.Add(3 * time.Second), EndState: domain.EndCompleted, Completed: true},
	}

	err = store.Update(ctx, func(tx ports.Tx) error {
		for i := range events {
			ev := events[i]
			ev.ProcessID = "p1"
			ev.DefinitionID = "d1"
			ev.DefinitionKey = "order"
			if err := recorder.Observe(ctx, tx, &ev); err != nil {
				return err
			}
			if err := m.Observe(ctx, tx, &ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, sum(t, reg, "bpmn_instances_started_total"))
	assert.Equal(t, 0.0, sum(t, reg, "bpmn_user_tasks_open"))
	assert.Equal(t, 0.0, sum(t, reg, "bpmn_event_subscriptions"))
	assert.Equal(t, 1.0, sum(t, reg, "bpmn_instances_ended_total"))
	assert.Equal(t, 1.0, sum(t, reg, "bpmn_messages_thrown_total"))
	assert.Equal(t, uint64(1), family(t, reg, "bpmn_activity_duration_seconds").GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_EngineCountsCommittedCalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	ctx := context.Background()

	eng := bpmn.New(bpmn.WithNotifier(m))
	b := dsl.New("charge")
	b.Add("start").Start().Go("charge")
	b.Add("charge").ServiceTask().Go("end")
	b.Add("end").End()
	def, err := b.Build()
	require.NoError(t, err)
	_, err = eng.Deploy(ctx, def)
	require.NoError(t, err)

	eng.RegisterServiceTask("charge", "charge", func(ctx context.Context, de ports.DelegateExecution) error {
		if fail, _ := de.Variable("fail"); fail == true {
			return errors.New("gateway down")
		}
		return nil
	})

	_, err = eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "charge", Variables: map[string]any{"fail": true}})
	require.Error(t, err)
	_, err = eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "charge"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, sum(t, reg, "bpmn_instances_started_total"))
	assert.Equal(t, 1.0, sum(t, reg, "bpmn_instances_ended_total"))
	visits := sum(t, reg, "bpmn_activities_started_total")
	assert.Equal(t, 3.0, visits)
	assert.Equal(t, uint64(visits), family(t, reg, "bpmn_activity_duration_seconds").GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err)
}

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

// sum adds up every series of a counter or gauge family.
func sum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	var total float64
	for _, m := range family(t, reg, name).GetMetric() {
		total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
	}
	return total
}
