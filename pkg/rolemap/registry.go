// Package rolemap rebuilds the cached role → capability maps in bulk, with a
// cache-backed lease guarding against concurrent duplicate work.
package rolemap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/approvio/approvio/pkg/models"
)

// Builder computes the complete snapshot set for one map type. Builders are
// registered explicitly at process start; there is no runtime scanning.
type Builder interface {
	MapType() string
	Build(ctx context.Context) ([]*models.RoleMap, error)
}

// Registry holds the registered map-type builders.
type Registry struct {
	logger   *slog.Logger
	builders map[string]Builder
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		builders: make(map[string]Builder),
	}
}

func (r *Registry) Register(builder Builder) {
	r.builders[builder.MapType()] = builder
}

func (r *Registry) Builder(mapType string) (Builder, error) {
	builder, ok := r.builders[mapType]
	if !ok {
		return nil, fmt.Errorf("map type '%s' not registered", mapType)
	}

	return builder, nil
}

// MapTypes returns the registered map types in stable order.
func (r *Registry) MapTypes() []string {
	types := make([]string, 0, len(r.builders))
	for mapType := range r.builders {
		types = append(types, mapType)
	}

	sort.Strings(types)

	return types
}
