package rolemap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// ApproverMapType names the map of user → approvable levels.
const ApproverMapType = "approver"

// CapabilityApprove is the capability recorded for decidable levels.
const CapabilityApprove = "approve"

// ApproverMapBuilder computes, for every user that appears in an approver
// set, the workflow/stage/level coordinates they can decide on. Relationship
// approvers are flattened through the directory; per-subject relationships
// (e.g. manager-of-subject) cannot be precomputed and stay dynamic, so only
// user and group approvers land in the snapshot.
type ApproverMapBuilder struct {
	persistence persistence.Persistence
	directory   directory.Directory
}

func NewApproverMapBuilder(store persistence.Persistence, dir directory.Directory) *ApproverMapBuilder {
	return &ApproverMapBuilder{persistence: store, directory: dir}
}

func (b *ApproverMapBuilder) MapType() string {
	return ApproverMapType
}

func (b *ApproverMapBuilder) Build(ctx context.Context) ([]*models.RoleMap, error) {
	workflows, err := b.persistence.Workflows().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	// user id -> level coordinates
	grants := make(map[string][]string)

	for _, workflow := range workflows {
		if workflow.Status != models.WorkflowStatusActive {
			continue
		}

		for _, stage := range workflow.Stages {
			for _, level := range stage.Levels {
				if !level.Active {
					continue
				}

				resource := workflow.ID + "/" + stage.ID + "/" + level.ID

				for _, approver := range level.Approvers {
					users, err := b.resolveApprover(ctx, approver)
					if err != nil {
						return nil, err
					}

					for _, user := range users {
						grants[user] = append(grants[user], resource)
					}
				}
			}
		}
	}

	now := time.Now().UTC()
	maps := make([]*models.RoleMap, 0, len(grants))

	for user, resources := range grants {
		snapshot, err := json.Marshal(map[string][]string{CapabilityApprove: resources})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot for user %s: %w", user, err)
		}

		maps = append(maps, &models.RoleMap{
			Role:        user,
			MapType:     ApproverMapType,
			Snapshot:    snapshot,
			Version:     now.UnixNano(),
			GeneratedAt: now,
		})
	}

	return maps, nil
}

func (b *ApproverMapBuilder) resolveApprover(ctx context.Context, approver *models.Approver) ([]string, error) {
	switch approver.Type {
	case models.ApproverTypeUser:
		return []string{approver.Identifier}, nil
	case models.ApproverTypeRelationshipGroup:
		members, err := b.directory.GroupMembers(ctx, approver.Identifier)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve group %s: %w", approver.Identifier, err)
		}

		return members, nil
	case models.ApproverTypeRelationship:
		// Subject-relative, resolved per application at decision time.
		return nil, nil
	default:
		return nil, nil
	}
}
