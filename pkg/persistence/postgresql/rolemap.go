package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// RoleMapRepository handles role map snapshot storage.
type RoleMapRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRoleMapRepository creates a new role map repository.
func NewRoleMapRepository(db *sql.DB, logger *slog.Logger) *RoleMapRepository {
	return &RoleMapRepository{db: db, logger: logger}
}

func (r *RoleMapRepository) Get(ctx context.Context, role, mapType string) (*models.RoleMap, error) {
	query := `
		SELECT role, map_type, snapshot, version, clean, generated_at
		FROM role_maps
		WHERE role = $1 AND map_type = $2
	`

	roleMap, err := scanRoleMap(r.db.QueryRowContext(ctx, query, role, mapType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRoleMapNotFound
		}

		return nil, fmt.Errorf("failed to scan role map: %w", err)
	}

	return roleMap, nil
}

func (r *RoleMapRepository) ListByType(ctx context.Context, mapType string) ([]*models.RoleMap, error) {
	query := `
		SELECT role, map_type, snapshot, version, clean, generated_at
		FROM role_maps
		WHERE map_type = $1
		ORDER BY role ASC
	`

	rows, err := r.db.QueryContext(ctx, query, mapType)
	if err != nil {
		return nil, fmt.Errorf("failed to query role maps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	maps := make([]*models.RoleMap, 0)

	for rows.Next() {
		roleMap, err := scanRoleMap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role map: %w", err)
		}

		maps = append(maps, roleMap)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating role maps: %w", err)
	}

	return maps, nil
}

// ReplaceAll swaps the stored snapshot set for one map type in a single
// transaction. Readers see either the old set or the new one.
func (r *RoleMapRepository) ReplaceAll(ctx context.Context, mapType string, maps []*models.RoleMap) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = transaction.ExecContext(ctx, "DELETE FROM role_maps WHERE map_type = $1", mapType)
	if err != nil {
		_ = transaction.Rollback()

		return fmt.Errorf("failed to clear role maps of type %s: %w", mapType, err)
	}

	insert := `
		INSERT INTO role_maps (role, map_type, snapshot, version, clean, generated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
	`

	for _, roleMap := range maps {
		_, err = transaction.ExecContext(ctx, insert,
			roleMap.Role,
			roleMap.MapType,
			[]byte(roleMap.Snapshot),
			roleMap.Version,
			roleMap.GeneratedAt,
		)
		if err != nil {
			_ = transaction.Rollback()

			return fmt.Errorf("failed to insert role map for %s: %w", roleMap.Role, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit role map replacement: %w", err)
	}

	return nil
}

func (r *RoleMapRepository) MarkAllDirty(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "UPDATE role_maps SET clean = FALSE")
	if err != nil {
		return fmt.Errorf("failed to mark role maps dirty: %w", err)
	}

	return nil
}

func scanRoleMap(row rowScanner) (*models.RoleMap, error) {
	var (
		roleMap  models.RoleMap
		snapshot []byte
	)

	err := row.Scan(
		&roleMap.Role,
		&roleMap.MapType,
		&snapshot,
		&roleMap.Version,
		&roleMap.Clean,
		&roleMap.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}

	roleMap.Snapshot = snapshot

	return &roleMap, nil
}
