package ports

import (
	"context"

	"github.com/aretw0/bpmn/pkg/domain"
)

// DefinitionProvider retrieves deployed process definitions.
// Implementations return domain.ErrNotFound for unknown definitions.
type DefinitionProvider interface {
	// Definition returns the definition with the given id.
	Definition(ctx context.Context, id string) (*domain.ProcessDefinition, error)

	// DefinitionByKey returns a revision of the definition deployed under key.
	// A revision of 0 selects the latest one.
	DefinitionByKey(ctx context.Context, key string, revision int) (*domain.ProcessDefinition, error)

	// Definitions returns the latest revision of every key.
	Definitions(ctx context.Context) ([]*domain.ProcessDefinition, error)
}
