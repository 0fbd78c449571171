package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// RoleMapRepository stores role-map snapshots, one file per map type. A
// rebuilt set is written to a temp file and renamed into place so readers
// never see a half-written map.
type RoleMapRepository struct {
	root string
	mu   sync.Mutex
}

// NewRoleMapRepository creates a new role map repository.
func NewRoleMapRepository(root string) *RoleMapRepository {
	return &RoleMapRepository{root: root}
}

// Get retrieves the snapshot for one role within a map type.
func (rr *RoleMapRepository) Get(ctx context.Context, role, mapType string) (*models.RoleMap, error) {
	maps, err := rr.ListByType(ctx, mapType)
	if err != nil {
		return nil, err
	}

	for _, roleMap := range maps {
		if roleMap.Role == role {
			return roleMap, nil
		}
	}

	return nil, persistence.ErrRoleMapNotFound
}

// ListByType returns all snapshots of one map type.
func (rr *RoleMapRepository) ListByType(_ context.Context, mapType string) ([]*models.RoleMap, error) {
	filePath := filepath.Clean(path.Join(rr.root, "rolemaps", mapType+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]*models.RoleMap, 0), nil
		}

		return nil, fmt.Errorf("failed to read role maps for type %s: %w", mapType, err)
	}

	var maps []*models.RoleMap

	err = json.Unmarshal(body, &maps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal role maps for type %s: %w", mapType, err)
	}

	return maps, nil
}

// ReplaceAll swaps in a rebuilt snapshot set for one map type atomically.
func (rr *RoleMapRepository) ReplaceAll(_ context.Context, mapType string, maps []*models.RoleMap) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	dir := path.Join(rr.root, "rolemaps")

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create rolemaps directory: %w", err)
	}

	for _, roleMap := range maps {
		roleMap.Clean = true
	}

	data, err := json.MarshalIndent(maps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal role maps for type %s: %w", mapType, err)
	}

	tmpPath := path.Join(dir, mapType+".json.tmp")

	err = os.WriteFile(tmpPath, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write role maps for type %s: %w", mapType, err)
	}

	return os.Rename(tmpPath, path.Join(dir, mapType+".json"))
}

// MarkAllDirty flags every stored snapshot as stale.
func (rr *RoleMapRepository) MarkAllDirty(ctx context.Context) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	dir := path.Join(rr.root, "rolemaps")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return fmt.Errorf("failed to list role map files: %w", err)
	}

	for _, file := range jsonFiles {
		mapType := file[:len(file)-5]

		maps, err := rr.ListByType(ctx, mapType)
		if err != nil {
			return err
		}

		for _, roleMap := range maps {
			roleMap.Clean = false
		}

		data, err := json.MarshalIndent(maps, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal role maps for type %s: %w", mapType, err)
		}

		err = os.WriteFile(path.Join(dir, file), data, 0600)
		if err != nil {
			return fmt.Errorf("failed to write role maps for type %s: %w", mapType, err)
		}
	}

	return nil
}
