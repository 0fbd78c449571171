// Package file provides file-based persistence for development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/approvio/approvio/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root             string
	workflowRepo     *WorkflowRepository
	applicationRepo  *ApplicationRepository
	roleMapRepo      *RoleMapRepository
	notificationRepo *NotificationRepository
	scheduleRepo     *ScheduleRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:             cleanRoot,
		workflowRepo:     NewWorkflowRepository(cleanRoot),
		applicationRepo:  NewApplicationRepository(cleanRoot),
		roleMapRepo:      NewRoleMapRepository(cleanRoot),
		notificationRepo: NewNotificationRepository(cleanRoot),
		scheduleRepo:     NewScheduleRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Workflows() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) Applications() persistence.ApplicationRepository {
	return fp.applicationRepo
}

func (fp *Persistence) RoleMaps() persistence.RoleMapRepository {
	return fp.roleMapRepo
}

func (fp *Persistence) Notifications() persistence.NotificationRepository {
	return fp.notificationRepo
}

func (fp *Persistence) Schedules() persistence.ScheduleRepository {
	return fp.scheduleRepo
}
