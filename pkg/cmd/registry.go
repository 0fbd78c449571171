package cmd

import (
	"log/slog"

	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/notify/recipient"
	"github.com/approvio/approvio/pkg/persistence"
	"github.com/approvio/approvio/pkg/rolemap"
)

// NewRecipientRegistry builds the recipient registry with every built-in
// selector registered.
func NewRecipientRegistry(store persistence.Persistence, dir directory.Directory, logger *slog.Logger) *recipient.Registry {
	registry := recipient.NewRegistry(logger)
	registry.Register(recipient.NewSubjectResolver())
	registry.Register(recipient.NewManagerResolver(dir))
	registry.Register(recipient.NewWorkflowOwnerResolver(store))
	registry.Register(recipient.NewOwnerResolver(store))
	registry.Register(recipient.NewStageApproversResolver(store, dir))

	return registry
}

// NewRoleMapRegistry builds the role map builder registry with every
// built-in map type registered.
func NewRoleMapRegistry(store persistence.Persistence, dir directory.Directory, logger *slog.Logger) *rolemap.Registry {
	registry := rolemap.NewRegistry(logger)
	registry.Register(rolemap.NewApproverMapBuilder(store, dir))

	return registry
}
