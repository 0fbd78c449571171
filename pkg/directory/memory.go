package directory

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-process Directory for tests and single-node
// deployments where no external HR system is wired up.
type MemoryDirectory struct {
	mu       sync.RWMutex
	managers map[string]string   // user id -> manager user id
	groups   map[string][]string // group id -> member user ids
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		managers: make(map[string]string),
		groups:   make(map[string][]string),
	}
}

// SetManager records userID's manager.
func (d *MemoryDirectory) SetManager(userID, managerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.managers[userID] = managerID
}

// SetGroup replaces a group's member list.
func (d *MemoryDirectory) SetGroup(groupID string, members []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.groups[groupID] = append([]string(nil), members...)
}

func (d *MemoryDirectory) Relationship(_ context.Context, relationship, subjectID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if relationship != RelationshipManager {
		return []string{}, nil
	}

	manager, ok := d.managers[subjectID]
	if !ok || manager == "" {
		return []string{}, nil
	}

	return []string{manager}, nil
}

func (d *MemoryDirectory) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.groups[groupID]
	if !ok {
		return []string{}, nil
	}

	return append([]string(nil), members...), nil
}
