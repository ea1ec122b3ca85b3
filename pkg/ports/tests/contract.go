package tests

import (
	"context"
	"testing"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

// DefinitionProviderContractTest verifies that a provider complies with ports.DefinitionProvider.
// deployed must hold at least two revisions of the same key, in deployment order.
func DefinitionProviderContractTest(t *testing.T, provider ports.DefinitionProvider, deployed []*domain.ProcessDefinition) {
	t.Helper()
	ctx := context.Background()

	t.Run("Definition_Success", func(t *testing.T) {
		for _, want := range deployed {
			got, err := provider.Definition(ctx, want.ID)
			if err != nil {
				t.Fatalf("unexpected error getting definition %s: %v", want.ID, err)
			}
			if got.Key != want.Key || got.Revision != want.Revision {
				t.Errorf("definition %s: got %s@%d, want %s@%d", want.ID, got.Key, got.Revision, want.Key, want.Revision)
			}
		}
	})

	t.Run("Definition_NotFound", func(t *testing.T) {
		_, err := provider.Definition(ctx, "non-existent-definition")
		if !domain.IsNotFound(err) {
			t.Errorf("expected not found error, got %v", err)
		}
	})

	t.Run("DefinitionByKey_Latest", func(t *testing.T) {
		latest := map[string]*domain.ProcessDefinition{}
		for _, d := range deployed {
			if cur, ok := latest[d.Key]; !ok || d.Revision > cur.Revision {
				latest[d.Key] = d
			}
		}
		for key, want := range latest {
			got, err := provider.DefinitionByKey(ctx, key, 0)
			if err != nil {
				t.Fatalf("unexpected error getting latest %s: %v", key, err)
			}
			if got.ID != want.ID {
				t.Errorf("latest %s: got %s, want %s", key, got.ID, want.ID)
			}
		}
	})

	t.Run("DefinitionByKey_Revision", func(t *testing.T) {
		for _, want := range deployed {
			got, err := provider.DefinitionByKey(ctx, want.Key, want.Revision)
			if err != nil {
				t.Fatalf("unexpected error getting %s@%d: %v", want.Key, want.Revision, err)
			}
			if got.ID != want.ID {
				t.Errorf("%s@%d: got %s, want %s", want.Key, want.Revision, got.ID, want.ID)
			}
		}
		if _, err := provider.DefinitionByKey(ctx, deployed[0].Key, 999); !domain.IsNotFound(err) {
			t.Errorf("expected not found for unknown revision, got %v", err)
		}
	})

	t.Run("Definitions", func(t *testing.T) {
		defs, err := provider.Definitions(ctx)
		if err != nil {
			t.Fatalf("unexpected error listing definitions: %v", err)
		}
		keys := map[string]int{}
		for _, d := range defs {
			keys[d.Key]++
		}
		for key, n := range keys {
			if n != 1 {
				t.Errorf("key %s listed %d times, want once", key, n)
			}
		}
		for _, d := range deployed {
			if keys[d.Key] == 0 {
				t.Errorf("key %s missing from listing", d.Key)
			}
		}
	})
}
