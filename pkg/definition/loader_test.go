package definition_test

import (
	"testing"

	"github.com/aretw0/bpmn/internal/testutils"
	"github.com/aretw0/bpmn/pkg/definition"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderYAML = `
key: order
name: Order handling
nodes:
  - id: start
    kind: none_start
    next: approve
  - id: approve
    kind: user_task
    assignee: manager
    priority: "3"
    next: route
  - id: route
    kind: exclusive_gateway
    transitions:
      - to: ship
        condition: approved == true
      - to_node_id: reject
        default: true
  - id: ship
    kind: service_task
    next: done
  - id: failed
    kind: error_boundary
    attached_to: ship
    error_code: OUT_OF_STOCK
    next: reject
  - id: reject
    kind: end
  - id: done
    kind: end
`

func TestParse(t *testing.T) {
	def, err := definition.Parse([]byte(orderYAML))
	require.NoError(t, err)

	assert.Equal(t, "order", def.Key)
	assert.Equal(t, "Order handling", def.Name)
	assert.Len(t, def.Nodes, 7)

	approve, ok := def.Node("approve")
	require.True(t, ok)
	assert.Equal(t, domain.KindUserTask, approve.Kind)
	assert.Equal(t, "manager", approve.Assignee)
	assert.Equal(t, 3, approve.Priority)

	route, _ := def.Node("route")
	assert.Equal(t, "route-reject", route.Default)
	out := def.Outgoing("route")
	require.Len(t, out, 2)
	assert.Equal(t, "approved == true", out[0].Condition)

	boundary, _ := def.Node("failed")
	assert.Equal(t, "ship", boundary.AttachedTo)
	assert.Equal(t, "OUT_OF_STOCK", boundary.ErrorCode)
}

func TestParse_DeterministicID(t *testing.T) {
	a, err := definition.Parse([]byte(orderYAML))
	require.NoError(t, err)
	b, err := definition.Parse([]byte(orderYAML))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	c, err := definition.Parse([]byte(orderYAML + "\n# changed\n"))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"unknown field", "key: x\ncolour: red\nnodes: []\n"},
		{"unknown kind", "key: x\nnodes:\n  - id: start\n    kind: none_start\n    next: a\n  - id: a\n    kind: robot\n"},
		{"no start", "key: x\nnodes:\n  - id: a\n    kind: end\n"},
		{"dangling flow", "key: x\nnodes:\n  - id: start\n    kind: none_start\n    next: nowhere\n"},
		{"two defaults", "key: x\nnodes:\n  - id: start\n    kind: none_start\n    transitions:\n      - to: a\n        default: true\n      - to: a\n        default: true\n  - id: a\n    kind: end\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := definition.Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, domain.ErrDefinition)
		})
	}
}

func TestParse_DuplicateFlowIDs(t *testing.T) {
	doc := `
key: twice
nodes:
  - id: start
    kind: none_start
    transitions:
      - to: a
        condition: x == 1
      - to: a
  - id: a
    kind: end
`
	def, err := definition.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, def.Transitions, 2)
	assert.Equal(t, "start-a", def.Transitions[0].ID)
	assert.Equal(t, "start-a-2", def.Transitions[1].ID)
}

func TestLoadDir(t *testing.T) {
	dir := testutils.SetupDefinitionDir(t, map[string]string{
		"b.yaml":    orderYAML,
		"a.yml":     "key: ping\nnodes:\n  - id: start\n    kind: none_start\n    next: end\n  - id: end\n    kind: end\n",
		"notes.txt": "ignored",
	})

	defs, err := definition.Load(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "ping", defs[0].Key)
	assert.Equal(t, "order", defs[1].Key)
}

func TestLoadDir_CollectsErrors(t *testing.T) {
	dir := testutils.SetupDefinitionDir(t, map[string]string{
		"good.yaml": orderYAML,
		"bad1.yaml": "key: x\nnodes: []\n",
		"bad2.yaml": "key: [\n",
	})

	defs, err := definition.LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad1.yaml")
	assert.Contains(t, err.Error(), "bad2.yaml")
	require.Len(t, defs, 1)
	assert.Equal(t, "order", defs[0].Key)
}
