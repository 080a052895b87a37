package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/state"
)

// Mask replaces the values of redacted fields.
const Mask = "***"

type piiMiddleware struct {
	next     ports.CheckpointStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks, in the checkpoint
// history, the values of keys matching the patterns. The head state is kept
// intact so the thread can still resume from it.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Save(ctx context.Context, key string, cp *domain.Checkpoint) error {
	// Clone to avoid side effects on the checkpoint held by the executor.
	cloned := cp.Clone()
	for i := range cloned.History {
		cloned.History[i].State = state.CopyMap(cloned.History[i].State)
		maskMap(cloned.History[i].State, m.patterns)
	}
	return m.next.Save(ctx, key, cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, key string) (*domain.Checkpoint, error) {
	return m.next.Load(ctx, key)
}

func (m *piiMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
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
		if masked {
			continue
		}

		switch t := v.(type) {
		case map[string]any:
			maskMap(t, patterns)
		case []any:
			for _, e := range t {
				if sub, ok := e.(map[string]any); ok {
					maskMap(sub, patterns)
				}
			}
		}
	}
}
