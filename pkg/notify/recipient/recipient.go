// Package recipient translates abstract recipient selectors into concrete
// user ids at dispatch time, so org-chart changes are always reflected.
package recipient

import (
	"context"
	"log/slog"
)

// Reference carries the identifiers a resolver may need.
type Reference struct {
	ApplicationID string
	WorkflowID    string
	SubjectID     string
}

// Resolver expands one named selector. A relationship that cannot be
// resolved yields an empty set, not an error; a missing recipient is not a
// system failure.
type Resolver interface {
	ID() string
	Resolve(ctx context.Context, ref Reference) ([]string, error)
}

// Registry maps selector ids to resolvers. Selectors are registered
// explicitly at process start; there is no runtime scanning.
type Registry struct {
	logger    *slog.Logger
	resolvers map[string]Resolver
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		resolvers: make(map[string]Resolver),
	}
}

func (r *Registry) Register(resolver Resolver) {
	r.resolvers[resolver.ID()] = resolver
}

// Resolve expands the selector. Unknown selectors resolve to an empty set
// with a warning rather than failing the dispatch.
func (r *Registry) Resolve(ctx context.Context, selectorID string, ref Reference) ([]string, error) {
	resolver, ok := r.resolvers[selectorID]
	if !ok {
		r.logger.WarnContext(ctx, "Unknown recipient selector", "selector", selectorID)

		return []string{}, nil
	}

	return resolver.Resolve(ctx, ref)
}
