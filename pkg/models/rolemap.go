package models

import (
	"encoding/json"
	"time"
)

// RoleMap is a computed snapshot of the capabilities a role holds across
// resources of one map type. Snapshots are written whole: readers see either
// the previous complete map or the new one, never a partial rebuild.
type RoleMap struct {
	Role        string          `json:"role"     validate:"required"`
	MapType     string          `json:"map_type" validate:"required"`
	Snapshot    json.RawMessage `json:"snapshot"`
	Version     int64           `json:"version"`
	Clean       bool            `json:"clean"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Capabilities decodes the snapshot into a capability-name → resource-id
// listing. An empty snapshot decodes to an empty map.
func (m *RoleMap) Capabilities() (map[string][]string, error) {
	capabilities := make(map[string][]string)

	if len(m.Snapshot) == 0 {
		return capabilities, nil
	}

	if err := json.Unmarshal(m.Snapshot, &capabilities); err != nil {
		return nil, err
	}

	return capabilities, nil
}
