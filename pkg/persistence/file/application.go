package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// ApplicationRepository handles application-related file operations. The
// mutex serializes saves so the optimistic version check is race-free within
// one process; cross-process deployments use the PostgreSQL implementation.
type ApplicationRepository struct {
	root string
	mu   sync.Mutex
}

// NewApplicationRepository creates a new application repository.
func NewApplicationRepository(root string) *ApplicationRepository {
	return &ApplicationRepository{root: root}
}

// List returns all applications sorted by creation time, newest first.
func (ar *ApplicationRepository) List(ctx context.Context) ([]*models.Application, error) {
	dir := path.Join(ar.root, "applications")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return make([]*models.Application, 0), nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list application files: %w", err)
	}

	applications := make([]*models.Application, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		applicationID := file[:len(file)-5]

		application, err := ar.GetByID(ctx, applicationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load application %s: %w", applicationID, err)
		}

		applications = append(applications, application)
	}

	sort.Slice(applications, func(i, j int) bool {
		return applications[i].CreatedAt.After(applications[j].CreatedAt)
	})

	return applications, nil
}

// GetByID retrieves an application by its ID from the file system.
func (ar *ApplicationRepository) GetByID(_ context.Context, applicationID string) (*models.Application, error) {
	filePath := filepath.Clean(path.Join(ar.root, "applications", applicationID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewApplicationError("GetByID", applicationID, persistence.ErrApplicationNotFound)
		}

		return nil, fmt.Errorf("failed to fetch application %s: %w", applicationID, err)
	}

	var application models.Application

	err = json.Unmarshal(body, &application)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal application %s: %w", applicationID, err)
	}

	return &application, nil
}

// Save persists the application, enforcing the optimistic version check.
func (ar *ApplicationRepository) Save(ctx context.Context, application *models.Application, expectedVersion int64) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	stored, err := ar.GetByID(ctx, application.ID)
	if err != nil && !persistence.IsApplicationNotFound(err) {
		return err
	}

	if stored != nil && stored.Version != expectedVersion {
		return persistence.NewApplicationError("Save", application.ID, persistence.ErrConcurrentModification)
	}

	if stored == nil && expectedVersion != 0 {
		return persistence.NewApplicationError("Save", application.ID, persistence.ErrConcurrentModification)
	}

	err = os.MkdirAll(path.Join(ar.root, "applications"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create applications directory: %w", err)
	}

	now := time.Now().UTC()
	if application.CreatedAt.IsZero() {
		application.CreatedAt = now
	}

	application.UpdatedAt = now
	application.Version = expectedVersion + 1

	data, err := json.MarshalIndent(application, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal application %s: %w", application.ID, err)
	}

	filePath := path.Join(ar.root, "applications", application.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// AppendAction appends one entry to the application's transition log.
func (ar *ApplicationRepository) AppendAction(ctx context.Context, action *models.ApplicationAction) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	actions, err := ar.readActions(action.ApplicationID)
	if err != nil {
		return err
	}

	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}

	actions = append(actions, action)

	err = os.MkdirAll(path.Join(ar.root, "actions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create actions directory: %w", err)
	}

	data, err := json.MarshalIndent(actions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal actions for application %s: %w", action.ApplicationID, err)
	}

	filePath := path.Join(ar.root, "actions", action.ApplicationID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// Actions returns the application's transition log in append order.
func (ar *ApplicationRepository) Actions(_ context.Context, applicationID string) ([]*models.ApplicationAction, error) {
	return ar.readActions(applicationID)
}

func (ar *ApplicationRepository) readActions(applicationID string) ([]*models.ApplicationAction, error) {
	filePath := filepath.Clean(path.Join(ar.root, "actions", applicationID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]*models.ApplicationAction, 0), nil
		}

		return nil, fmt.Errorf("failed to read actions for application %s: %w", applicationID, err)
	}

	var actions []*models.ApplicationAction

	err = json.Unmarshal(body, &actions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions for application %s: %w", applicationID, err)
	}

	return actions, nil
}
