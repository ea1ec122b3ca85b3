package domain_test

import (
	"errors"
	"testing"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderDefinition() *domain.ProcessDefinition {
	return &domain.ProcessDefinition{
		ID:       "order:1",
		Key:      "order",
		Revision: 1,
		Nodes: []domain.Node{
			{ID: "start", Kind: domain.KindNoneStart},
			{ID: "byMessage", Kind: domain.KindMessageStart, Message: "OrderPlaced"},
			{ID: "bySignal", Kind: domain.KindSignalStart, Signal: "Restock"},
			{ID: "charge", Kind: domain.KindServiceTask},
			{ID: "declined", Kind: domain.KindErrorBoundary, AttachedTo: "charge", ErrorCode: "DECLINED"},
			{ID: "anyError", Kind: domain.KindErrorBoundary, AttachedTo: "charge"},
			{ID: "sub", Kind: domain.KindSubProcess},
			{ID: "subStart", Kind: domain.KindNoneStart, Parent: "sub"},
			{ID: "subEnd", Kind: domain.KindEnd, Parent: "sub"},
			{ID: "end", Kind: domain.KindEnd},
		},
		Transitions: []domain.Transition{
			{ID: "f1", From: "start", To: "charge"},
			{ID: "f2", From: "byMessage", To: "charge"},
			{ID: "f3", From: "bySignal", To: "charge"},
			{ID: "f4", From: "charge", To: "sub"},
			{ID: "f5", From: "sub", To: "end"},
			{ID: "f6", From: "declined", To: "end"},
			{ID: "f7", From: "anyError", To: "end"},
			{ID: "f8", From: "subStart", To: "subEnd"},
		},
	}
}

func TestProcessDefinition_FindStart(t *testing.T) {
	def := orderDefinition()
	require.NoError(t, def.Validate())

	n, err := def.FindNoneStart()
	require.NoError(t, err)
	assert.Equal(t, "start", n.ID, "sub-process start events are skipped")

	n, err = def.FindStart(domain.Trigger{Kind: domain.TriggerMessage, Name: "OrderPlaced"})
	require.NoError(t, err)
	assert.Equal(t, "byMessage", n.ID)

	n, err = def.FindSignalStart("Restock")
	require.NoError(t, err)
	assert.Equal(t, "bySignal", n.ID)

	_, err = def.FindMessageStart("Unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDefinition)
	assert.Contains(t, err.Error(), `"order" revision 1`)
}

func TestProcessDefinition_ErrorBoundary(t *testing.T) {
	def := orderDefinition()

	b, ok := def.ErrorBoundary("charge", "DECLINED")
	require.True(t, ok)
	assert.Equal(t, "declined", b.ID)

	b, ok = def.ErrorBoundary("charge", "TIMEOUT")
	require.True(t, ok)
	assert.Equal(t, "anyError", b.ID)

	_, ok = def.ErrorBoundary("sub", "DECLINED")
	assert.False(t, ok)
}

func TestProcessDefinition_OutgoingOrder(t *testing.T) {
	def := &domain.ProcessDefinition{
		Transitions: []domain.Transition{
			{ID: "b", From: "gw", To: "x"},
			{ID: "a", From: "gw", To: "y"},
			{ID: "c", From: "other", To: "gw"},
		},
	}
	out := def.Outgoing("gw")
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "a", out[1].ID)
	assert.Len(t, def.Incoming("gw"), 1)
}

func TestProcessDefinition_Validate(t *testing.T) {
	def := &domain.ProcessDefinition{
		Key: "broken",
		Nodes: []domain.Node{
			{ID: "task", Kind: domain.KindTask},
			{ID: "task", Kind: domain.KindTask},
			{ID: "catch", Kind: domain.KindMessageCatch},
			{ID: "weird", Kind: "lasso"},
		},
		Transitions: []domain.Transition{
			{ID: "f1", From: "task", To: "missing"},
		},
	}

	err := def.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDefinition)

	msg := err.Error()
	assert.Contains(t, msg, `duplicate node "task"`)
	assert.Contains(t, msg, "message name is required")
	assert.Contains(t, msg, `unknown kind "lasso"`)
	assert.Contains(t, msg, `unknown target "missing"`)
	assert.Contains(t, msg, "no top-level start event")
}

func TestError_Is(t *testing.T) {
	cause := errors.New("disk full")
	err := domain.Errorf(domain.ErrNotFound, "execution %q", "e1").At("p1", "e1", "task").Wrap(cause)

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, `not found: execution "e1" (process=p1, execution=e1, activity=task): disk full`, err.Error())

	var typed *domain.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, "p1", typed.ProcessID)
}

func TestCloseSpan(t *testing.T) {
	end, d, clamped := domain.CloseSpan(1000, 1250)
	assert.False(t, clamped)
	assert.Equal(t, int64(1250), *end)
	assert.Equal(t, uint64(250), *d)

	end, d, clamped = domain.CloseSpan(10, 5)
	assert.True(t, clamped)
	assert.Equal(t, int64(10), *end)
	assert.Equal(t, uint64(0), *d)
}

func TestCopyVariables(t *testing.T) {
	type point struct{ X int }
	src := map[string]any{
		"obj":   map[string]any{"n": 1.0, "tags": []any{"a", map[string]any{"k": "v"}}},
		"list":  []string{"x"},
		"ptr":   &point{X: 1},
		"plain": "s",
		"none":  nil,
	}
	c := domain.CopyVariables(src)
	require.Equal(t, src, c)

	c["obj"].(map[string]any)["n"] = 2.0
	c["obj"].(map[string]any)["tags"].([]any)[1].(map[string]any)["k"] = "changed"
	c["list"].([]string)[0] = "y"
	c["ptr"].(*point).X = 9

	assert.Equal(t, 1.0, src["obj"].(map[string]any)["n"])
	assert.Equal(t, "v", src["obj"].(map[string]any)["tags"].([]any)[1].(map[string]any)["k"])
	assert.Equal(t, []string{"x"}, src["list"])
	assert.Equal(t, 1, src["ptr"].(*point).X)
	assert.Nil(t, domain.CopyVariables(nil))
}
