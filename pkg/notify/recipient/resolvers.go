package recipient

import (
	"context"
	"fmt"

	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// Built-in selector ids.
const (
	SelectorSubject        = "subject"
	SelectorManager        = "manager"
	SelectorWorkflowOwner  = "workflow_owner"
	SelectorOwner          = "owner"
	SelectorStageApprovers = "stage_approvers"
)

// SubjectResolver resolves to the application's subject.
type SubjectResolver struct{}

func NewSubjectResolver() *SubjectResolver {
	return &SubjectResolver{}
}

func (r *SubjectResolver) ID() string {
	return SelectorSubject
}

func (r *SubjectResolver) Resolve(_ context.Context, ref Reference) ([]string, error) {
	if ref.SubjectID == "" {
		return []string{}, nil
	}

	return []string{ref.SubjectID}, nil
}

// ManagerResolver resolves to the manager of the application's subject,
// looked up in the directory at dispatch time. No manager means no
// recipient, silently.
type ManagerResolver struct {
	directory directory.Directory
}

func NewManagerResolver(dir directory.Directory) *ManagerResolver {
	return &ManagerResolver{directory: dir}
}

func (r *ManagerResolver) ID() string {
	return SelectorManager
}

func (r *ManagerResolver) Resolve(ctx context.Context, ref Reference) ([]string, error) {
	if ref.SubjectID == "" {
		return []string{}, nil
	}

	managers, err := r.directory.Relationship(ctx, directory.RelationshipManager, ref.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manager of %s: %w", ref.SubjectID, err)
	}

	return managers, nil
}

// WorkflowOwnerResolver resolves to the owner of the application's workflow.
type WorkflowOwnerResolver struct {
	persistence persistence.Persistence
}

func NewWorkflowOwnerResolver(store persistence.Persistence) *WorkflowOwnerResolver {
	return &WorkflowOwnerResolver{persistence: store}
}

func (r *WorkflowOwnerResolver) ID() string {
	return SelectorWorkflowOwner
}

func (r *WorkflowOwnerResolver) Resolve(ctx context.Context, ref Reference) ([]string, error) {
	if ref.WorkflowID == "" {
		return []string{}, nil
	}

	workflow, err := r.persistence.Workflows().GetByID(ctx, ref.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return []string{}, nil
		}

		return nil, err
	}

	if workflow.Owner == "" {
		return []string{}, nil
	}

	return []string{workflow.Owner}, nil
}

// OwnerResolver resolves to the application's owner.
type OwnerResolver struct {
	persistence persistence.Persistence
}

func NewOwnerResolver(store persistence.Persistence) *OwnerResolver {
	return &OwnerResolver{persistence: store}
}

func (r *OwnerResolver) ID() string {
	return SelectorOwner
}

func (r *OwnerResolver) Resolve(ctx context.Context, ref Reference) ([]string, error) {
	if ref.ApplicationID == "" {
		return []string{}, nil
	}

	application, err := r.persistence.Applications().GetByID(ctx, ref.ApplicationID)
	if err != nil {
		if persistence.IsApplicationNotFound(err) {
			return []string{}, nil
		}

		return nil, err
	}

	if application.Owner == "" {
		return []string{}, nil
	}

	return []string{application.Owner}, nil
}

// StageApproversResolver resolves to the approvers of the application's
// current approval level, expanded through the directory the same way
// decision rights are checked. An application without a current level has
// no approvers to notify.
type StageApproversResolver struct {
	persistence persistence.Persistence
	directory   directory.Directory
}

func NewStageApproversResolver(store persistence.Persistence, dir directory.Directory) *StageApproversResolver {
	return &StageApproversResolver{persistence: store, directory: dir}
}

func (r *StageApproversResolver) ID() string {
	return SelectorStageApprovers
}

func (r *StageApproversResolver) Resolve(ctx context.Context, ref Reference) ([]string, error) {
	if ref.ApplicationID == "" {
		return []string{}, nil
	}

	application, err := r.persistence.Applications().GetByID(ctx, ref.ApplicationID)
	if err != nil {
		if persistence.IsApplicationNotFound(err) {
			return []string{}, nil
		}

		return nil, err
	}

	if application.CurrentStageID == "" || application.CurrentLevelID == "" {
		return []string{}, nil
	}

	level, err := r.currentLevel(ctx, application)
	if err != nil || level == nil {
		return []string{}, err
	}

	seen := make(map[string]bool)
	users := make([]string, 0, len(level.Approvers))

	add := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true

				users = append(users, id)
			}
		}
	}

	for _, approver := range level.Approvers {
		switch approver.Type {
		case models.ApproverTypeUser:
			add([]string{approver.Identifier})
		case models.ApproverTypeRelationship:
			related, err := r.directory.Relationship(ctx, approver.Identifier, application.SubjectID)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s of %s: %w", approver.Identifier, application.SubjectID, err)
			}

			add(related)
		case models.ApproverTypeRelationshipGroup:
			members, err := r.directory.GroupMembers(ctx, approver.Identifier)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve group %s: %w", approver.Identifier, err)
			}

			add(members)
		}
	}

	return users, nil
}

// currentLevel looks the application's level up in the workflow version it
// is pinned to. A level that no longer resolves yields nil, not an error.
func (r *StageApproversResolver) currentLevel(ctx context.Context, application *models.Application) (*models.ApprovalLevel, error) {
	workflow, err := r.persistence.Workflows().GetByID(ctx, application.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, nil
		}

		return nil, err
	}

	if application.WorkflowVersion != 0 && workflow.Version != application.WorkflowVersion {
		workflow, err = r.persistence.Workflows().GetVersion(ctx, application.WorkflowID, application.WorkflowVersion)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				return nil, nil
			}

			return nil, err
		}
	}

	stage := workflow.StageByID(application.CurrentStageID)
	if stage == nil {
		return nil, nil
	}

	return stage.LevelByID(application.CurrentLevelID), nil
}
