package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations. Stages
// and their approval levels are stored as one JSONB document; they are
// always read and written with the workflow as a unit.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , status
		  , version
		  , stages
		  , owner
		  , created_at
		  , updated_at
		  , archived_at
		FROM workflows
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , status
		  , version
		  , stages
		  , owner
		  , created_at
		  , updated_at
		  , archived_at
		FROM workflows
		WHERE id = $1
	`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// GetVersion reads the snapshot of the workflow at a past version.
func (r *WorkflowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error) {
	query := `
		SELECT document
		FROM workflow_versions
		WHERE workflow_id = $1 AND version = $2
	`

	var document []byte

	err := r.db.QueryRowContext(ctx, query, id, version).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetVersion", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s version %d: %w", id, version, err)
	}

	var workflow models.Workflow

	if err := json.Unmarshal(document, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s version %d: %w", id, version, err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	stages, err := json.Marshal(workflow.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, status, version, stages, owner, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , status = EXCLUDED.status
		  , version = EXCLUDED.version
		  , stages = EXCLUDED.stages
		  , owner = EXCLUDED.owner
		  , updated_at = EXCLUDED.updated_at
		  , archived_at = EXCLUDED.archived_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		string(workflow.Status),
		workflow.Version,
		stages,
		workflow.Owner,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	document, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	snapshotQuery := `
		INSERT INTO workflow_versions (workflow_id, version, document, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workflow_id, version) DO UPDATE SET
			document = EXCLUDED.document
	`

	_, err = r.db.ExecContext(ctx, snapshotQuery, workflow.ID, workflow.Version, document, now)
	if err != nil {
		return fmt.Errorf("failed to snapshot workflow %s version %d: %w", workflow.ID, workflow.Version, err)
	}

	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow   models.Workflow
		status     string
		stages     []byte
		owner      sql.NullString
		archivedAt sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&status,
		&workflow.Version,
		&stages,
		&owner,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&archivedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Status = models.WorkflowStatus(status)
	workflow.Owner = owner.String

	if archivedAt.Valid {
		workflow.ArchivedAt = &archivedAt.Time
	}

	if err := json.Unmarshal(stages, &workflow.Stages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
	}

	return &workflow, nil
}
