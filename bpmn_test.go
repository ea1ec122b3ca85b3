package bpmn_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/bpmn"
	"github.com/aretw0/bpmn/pkg/adapters/memory"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/dsl"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/aretw0/bpmn/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deploy(t *testing.T, eng *bpmn.Engine, b *dsl.Builder) *domain.ProcessDefinition {
	t.Helper()
	def, err := b.Build()
	require.NoError(t, err)
	deployed, err := eng.Deploy(context.Background(), def)
	require.NoError(t, err)
	return deployed
}

func TestEngine_ServiceTaskAndHistory(t *testing.T) {
	ctx := context.Background()
	eng := bpmn.New()

	b := dsl.New("invoice")
	b.Add("start").Start().Go("charge")
	b.Add("charge").ServiceTask().Go("end")
	b.Add("end").End()
	deploy(t, eng, b)

	eng.RegisterServiceTask("invoice", "charge", func(ctx context.Context, exec registry.DelegateExecution) error {
		amount, _ := exec.Variable("amount")
		exec.SetVariable("charged", amount)
		return nil
	})

	inst, err := eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "invoice", Variables: map[string]any{"amount": 42}})
	require.NoError(t, err)
	assert.NotNil(t, inst.EndedAt)

	vars, err := eng.Variables(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, vars["charged"])

	rec, err := eng.HistoryExecution(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.Duration)

	visits, err := eng.History(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, visits, 3)
	assert.True(t, visits[0].Completed)
	assert.True(t, visits[1].Completed)
	assert.False(t, visits[2].Completed, "end events are not left through a transition")
}

func TestEngine_DeployRevisions(t *testing.T) {
	ctx := context.Background()
	eng := bpmn.New()

	first := dsl.New("order")
	first.Add("start").Start().Go("end")
	first.Add("end").End()
	v1 := deploy(t, eng, first)

	second := dsl.New("order")
	second.Add("start").Start().Go("wait")
	second.Add("wait").UserTask().Go("end")
	second.Add("end").End()
	v2 := deploy(t, eng, second)

	assert.Equal(t, 1, v1.Revision)
	assert.Equal(t, 2, v2.Revision)

	latest, err := eng.DefinitionByKey(ctx, "order", 0)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)

	inst, err := eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "order", Revision: 1})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, inst.DefinitionID)
	assert.NotNil(t, inst.EndedAt)
}

func TestEngine_DeployInvalid(t *testing.T) {
	eng := bpmn.New()

	_, err := eng.Deploy(context.Background(), &domain.ProcessDefinition{Key: "broken"})
	assert.ErrorIs(t, err, domain.ErrDefinition)
}

func TestEngine_ObserverRunsAfterHistory(t *testing.T) {
	ctx := context.Background()
	var seen []domain.EventType
	eng := bpmn.New(
		bpmn.WithStore(memory.NewStore()),
		bpmn.WithObserver(ports.ObserverFunc(func(ctx context.Context, tx ports.Tx, ev *domain.Event) error {
			if ev.Type == domain.EventInstanceStarted {
				if _, err := tx.HistoryExecution(ctx, ev.ProcessID); err != nil {
					return errors.New("history row missing")
				}
			}
			seen = append(seen, ev.Type)
			return nil
		})),
	)

	b := dsl.New("noop")
	b.Add("start").Start().Go("end")
	b.Add("end").End()
	deploy(t, eng, b)

	_, err := eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "noop"})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	assert.Equal(t, domain.EventInstanceStarted, seen[0])
	assert.Equal(t, domain.EventInstanceEnded, seen[len(seen)-1])
}

func TestEngine_MessageThrowHandler(t *testing.T) {
	ctx := context.Background()
	eng := bpmn.New(bpmn.WithSignalMode(bpmn.SignalTargeted))

	b := dsl.New("notify")
	b.Add("start").Start().Go("send")
	b.Add("send").MessageThrow("shipped").Go("end")
	b.Add("end").End()
	deploy(t, eng, b)

	var sent []string
	eng.RegisterMessageHandler("notify", "send", func(ctx context.Context, exec registry.DelegateExecution) error {
		sent = append(sent, exec.ProcessID())
		return nil
	})

	inst, err := eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "notify"})
	require.NoError(t, err)
	assert.Equal(t, []string{inst.ID}, sent)
}
