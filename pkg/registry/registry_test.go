package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	vars map[string]any
}

func (f *fakeExec) ProcessID() string   { return "p1" }
func (f *fakeExec) ProcessKey() string  { return "order" }
func (f *fakeExec) ExecutionID() string { return "e1" }
func (f *fakeExec) ActivityID() string  { return "charge" }
func (f *fakeExec) Variable(name string) (any, bool) {
	v, ok := f.vars[name]
	return v, ok
}
func (f *fakeExec) Variables() map[string]any                   { return f.vars }
func (f *fakeExec) SetVariable(name string, value any)          { f.vars[name] = value }
func (f *fakeExec) PropagateVariable(string, string, any) error { return nil }

func TestRegistry_ServiceTask(t *testing.T) {
	r := registry.New()
	r.RegisterServiceTask("order", "charge", func(ctx context.Context, exec registry.DelegateExecution) error {
		exec.SetVariable("charged", true)
		return nil
	})

	exec := &fakeExec{vars: map[string]any{}}
	require.NoError(t, r.InvokeServiceTask(context.Background(), "order", "charge", exec))
	assert.Equal(t, true, exec.vars["charged"])
	assert.Equal(t, []string{"order/charge"}, r.ServiceTasks())
}

func TestRegistry_MissingServiceTask(t *testing.T) {
	r := registry.New()
	err := r.InvokeServiceTask(context.Background(), "order", "charge", &fakeExec{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Contains(t, err.Error(), "order/charge")
}

func TestRegistry_BusinessErrorPassesThrough(t *testing.T) {
	r := registry.New()
	r.RegisterServiceTask("order", "charge", func(ctx context.Context, exec registry.DelegateExecution) error {
		return &domain.BusinessError{Code: "DECLINED"}
	})

	err := r.InvokeServiceTask(context.Background(), "order", "charge", &fakeExec{})
	var business *domain.BusinessError
	require.True(t, errors.As(err, &business))
	assert.Equal(t, "DECLINED", business.Code)
}

func TestRegistry_ThrowMessage(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.ThrowMessage(context.Background(), "order", "notify", &fakeExec{}), "unbound throw is a no-op")

	var got string
	r.RegisterMessageHandler("order", "notify", func(ctx context.Context, exec registry.DelegateExecution) error {
		got = exec.ActivityID()
		return nil
	})
	require.NoError(t, r.ThrowMessage(context.Background(), "order", "notify", &fakeExec{}))
	assert.Equal(t, "charge", got)
}
