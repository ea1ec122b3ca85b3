package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/bpmn"
	"github.com/aretw0/bpmn/internal/testutils"
	"github.com/aretw0/bpmn/pkg/adapters/bolt"
	"github.com/aretw0/bpmn/pkg/definition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewYAML = `
key: review
nodes:
  - id: start
    kind: none_start
    next: review
  - id: review
    kind: user_task
    assignee: manager
    next: done
  - id: done
    kind: end
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "bpmn version "+bpmn.Version+"\n", out)
}

func TestValidate(t *testing.T) {
	dir := testutils.SetupDefinitionDir(t, map[string]string{"review.yaml": reviewYAML})

	out, err := run(t, "validate", dir, "--config", filepath.Join(dir, "none.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "review (3 nodes, 2 transitions)")
	assert.Contains(t, out, "1 definition(s) valid!")

	broken := "key: broken\nnodes:\n  - id: a\n    kind: end\n    next: nowhere\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(broken), 0o644))
	_, err = run(t, "validate", dir, "--config", filepath.Join(dir, "none.yaml"))
	assert.Error(t, err)
}

func TestHistoryAndGraph(t *testing.T) {
	ctx := context.Background()
	dir := testutils.SetupDefinitionDir(t, map[string]string{"review.yaml": reviewYAML})
	defPath := filepath.Join(dir, "review.yaml")
	dbPath := filepath.Join(dir, "bpmn.db")
	cfgPath := filepath.Join(dir, "bpmn.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: bolt\n  path: "+dbPath+"\n"), 0o644))

	store, err := bolt.Open(ctx, dbPath)
	require.NoError(t, err)
	def, err := definition.LoadFile(defPath)
	require.NoError(t, err)
	engine := bpmn.New(bpmn.WithStore(store))
	_, err = engine.Deploy(ctx, def)
	require.NoError(t, err)
	inst, err := engine.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "review"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := run(t, "history", inst.ID, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Instance "+inst.ID)
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "review")
	assert.Contains(t, out, "manager")

	out, err = run(t, "tasks", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "review ("+inst.ID+")")

	out, err = run(t, "graph", defPath, "--instance", inst.ID, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "class start visited;")
	assert.Contains(t, out, "class review current;")
}

func TestHistory_NeedsDurableStore(t *testing.T) {
	_, err := run(t, "history", "p1", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorContains(t, err, "keeps no state")
}
