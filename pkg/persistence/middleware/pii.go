package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/ports"
)

// Mask replaces redacted variable values.
const Mask = "***"

type piiMiddleware struct {
	next     ports.Store
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the values of variables
// whose name matches one of the patterns. Masking applies to View only:
// Update transactions, and so the engine and its handlers, see real values,
// while queries such as instance variables return the mask.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.Store) ports.Store {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Update(ctx context.Context, fn func(tx ports.Tx) error) error {
	return m.next.Update(ctx, fn)
}

func (m *piiMiddleware) View(ctx context.Context, fn func(tx ports.Tx) error) error {
	return m.next.View(ctx, func(tx ports.Tx) error {
		return fn(&redactingTx{Tx: tx, patterns: m.patterns})
	})
}

type redactingTx struct {
	ports.Tx
	patterns []*regexp.Regexp
}

func (t *redactingTx) Instance(ctx context.Context, id string) (*domain.Instance, error) {
	inst, err := t.Tx.Instance(ctx, id)
	if err != nil {
		return nil, err
	}
	// Deep copy so stores handing out shared maps are never modified.
	masked := make(map[string]map[string]any, len(inst.Variables))
	for scope, vars := range inst.Variables {
		masked[scope] = domain.CopyVariables(vars)
		if masked[scope] == nil {
			masked[scope] = map[string]any{}
		}
		maskMap(masked[scope], t.patterns)
	}
	inst.Variables = masked
	return inst, nil
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}

		// Recurse if map
		if subMap, ok := v.(map[string]any); ok && !masked {
			maskMap(subMap, patterns)
		}
	}
}
