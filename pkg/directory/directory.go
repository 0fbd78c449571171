// Package directory abstracts the org-chart lookups used for approver
// membership checks and recipient resolution. The HR system behind it is an
// external collaborator; this package only defines the queries the core needs.
package directory

import "context"

// Well-known relationship names.
const (
	RelationshipManager = "manager"
)

// Directory answers org-chart queries at decision and dispatch time, so
// relationship changes are picked up without re-authoring workflows or rules.
// A relationship that cannot be resolved yields an empty slice, not an error;
// a user without a manager is an expected condition.
type Directory interface {
	// Relationship returns the users standing in the named relationship to
	// the subject, e.g. the subject's manager.
	Relationship(ctx context.Context, relationship, subjectID string) ([]string, error)

	// GroupMembers returns the members of a directory group.
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
}
