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

// ApplicationRepository handles application-related database operations.
type ApplicationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewApplicationRepository creates a new application repository.
func NewApplicationRepository(db *sql.DB, logger *slog.Logger) *ApplicationRepository {
	return &ApplicationRepository{db: db, logger: logger}
}

const applicationColumns = `
			id
		  , title
		  , workflow_id
		  , workflow_version
		  , subject_id
		  , owner
		  , state
		  , current_stage_id
		  , current_level_id
		  , decisions
		  , version
		  , created_at
		  , updated_at
`

func (r *ApplicationRepository) List(ctx context.Context) ([]*models.Application, error) {
	query := `SELECT` + applicationColumns + `FROM applications ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	applications := make([]*models.Application, 0)

	for rows.Next() {
		application, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}

		applications = append(applications, application)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating applications: %w", err)
	}

	return applications, nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	query := `SELECT` + applicationColumns + `FROM applications WHERE id = $1`

	application, err := scanApplication(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrApplicationNotFound
		}

		return nil, fmt.Errorf("failed to scan application: %w", err)
	}

	return application, nil
}

// Save persists the application with an optimistic-concurrency check. A new
// application must carry expectedVersion 0; an update only succeeds when the
// stored row still holds expectedVersion.
func (r *ApplicationRepository) Save(ctx context.Context, application *models.Application, expectedVersion int64) error {
	now := time.Now().UTC()
	if application.CreatedAt.IsZero() {
		application.CreatedAt = now
	}

	application.UpdatedAt = now

	decisions, err := json.Marshal(application.Decisions)
	if err != nil {
		return fmt.Errorf("failed to marshal decisions: %w", err)
	}

	if expectedVersion == 0 {
		return r.insert(ctx, application, decisions)
	}

	query := `
		UPDATE applications SET
			title = $1
		  , state = $2
		  , current_stage_id = $3
		  , current_level_id = $4
		  , decisions = $5
		  , version = version + 1
		  , updated_at = $6
		WHERE id = $7 AND version = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		application.Title,
		string(application.State),
		nullString(application.CurrentStageID),
		nullString(application.CurrentLevelID),
		decisions,
		application.UpdatedAt,
		application.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update application %s: %w", application.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		exists, err := r.exists(ctx, application.ID)
		if err != nil {
			return err
		}

		if !exists {
			return persistence.ErrApplicationNotFound
		}

		return persistence.ErrConcurrentModification
	}

	application.Version = expectedVersion + 1

	return nil
}

func (r *ApplicationRepository) insert(ctx context.Context, application *models.Application, decisions []byte) error {
	query := `
		INSERT INTO applications (id, title, workflow_id, workflow_version, subject_id, owner, state,
			current_stage_id, current_level_id, decisions, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		application.ID,
		application.Title,
		application.WorkflowID,
		application.WorkflowVersion,
		application.SubjectID,
		application.Owner,
		string(application.State),
		nullString(application.CurrentStageID),
		nullString(application.CurrentLevelID),
		decisions,
		application.CreatedAt,
		application.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert application %s: %w", application.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check insert result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrConcurrentModification
	}

	application.Version = 1

	return nil
}

func (r *ApplicationRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM applications WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check application existence: %w", err)
	}

	return exists, nil
}

func (r *ApplicationRepository) AppendAction(ctx context.Context, action *models.ApplicationAction) error {
	query := `
		INSERT INTO application_actions (id, application_id, type, from_stage_id, to_stage_id, level_id, actor_id, decision, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		action.ID,
		action.ApplicationID,
		string(action.Type),
		nullString(action.FromStageID),
		nullString(action.ToStageID),
		nullString(action.LevelID),
		nullString(action.ActorID),
		nullString(string(action.Decision)),
		action.Notes,
		action.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append action for application %s: %w", action.ApplicationID, err)
	}

	return nil
}

func (r *ApplicationRepository) Actions(ctx context.Context, applicationID string) ([]*models.ApplicationAction, error) {
	query := `
		SELECT
			id
		  , application_id
		  , type
		  , from_stage_id
		  , to_stage_id
		  , level_id
		  , actor_id
		  , decision
		  , notes
		  , created_at
		FROM application_actions
		WHERE application_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	actions := make([]*models.ApplicationAction, 0)

	for rows.Next() {
		var (
			action      models.ApplicationAction
			actionType  string
			fromStageID sql.NullString
			toStageID   sql.NullString
			levelID     sql.NullString
			actorID     sql.NullString
			decision    sql.NullString
			notes       sql.NullString
		)

		err := rows.Scan(
			&action.ID,
			&action.ApplicationID,
			&actionType,
			&fromStageID,
			&toStageID,
			&levelID,
			&actorID,
			&decision,
			&notes,
			&action.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		action.Type = models.ActionType(actionType)
		action.FromStageID = fromStageID.String
		action.ToStageID = toStageID.String
		action.LevelID = levelID.String
		action.ActorID = actorID.String
		action.Decision = models.Decision(decision.String)
		action.Notes = notes.String

		actions = append(actions, &action)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		application    models.Application
		owner          sql.NullString
		state          string
		currentStageID sql.NullString
		currentLevelID sql.NullString
		decisions      []byte
	)

	err := row.Scan(
		&application.ID,
		&application.Title,
		&application.WorkflowID,
		&application.WorkflowVersion,
		&application.SubjectID,
		&owner,
		&state,
		&currentStageID,
		&currentLevelID,
		&decisions,
		&application.Version,
		&application.CreatedAt,
		&application.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	application.Owner = owner.String
	application.State = models.ApplicationState(state)
	application.CurrentStageID = currentStageID.String
	application.CurrentLevelID = currentLevelID.String

	if len(decisions) > 0 {
		if err := json.Unmarshal(decisions, &application.Decisions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decisions: %w", err)
		}
	}

	return &application, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
