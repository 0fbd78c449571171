// Package events defines the domain events emitted by application state changes.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "approvio.events" // Topic for application lifecycle events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Application lifecycle events.
	ApplicationSubmittedEvent EventType = "application.submitted"
	ApplicationApprovedEvent  EventType = "application.approved"
	ApplicationRejectedEvent  EventType = "application.rejected"
	ApplicationCancelledEvent EventType = "application.cancelled"

	// Stage and level routing events.
	StageEnteredEvent  EventType = "application.stage.entered"
	StageReturnedEvent EventType = "application.stage.returned"
	LevelAdvancedEvent EventType = "application.level.advanced"
	LevelApprovedEvent EventType = "application.level.approved"

	// Role map maintenance events.
	RoleMapsRebuiltEvent EventType = "rolemaps.rebuilt"
)

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	ApplicationID string         `json:"application_id,omitempty"`
	WorkflowID    string         `json:"workflow_id,omitempty"`
	SubjectID     string         `json:"subject_id,omitempty"`
	ActorID       string         `json:"actor_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Base returns the embedded BaseEvent. Every domain event embeds
// BaseEvent, so the method is promoted onto all of them.
func (b BaseEvent) Base() BaseEvent {
	return b
}

type ApplicationSubmitted struct {
	BaseEvent

	StageID string `json:"stage_id"`
	LevelID string `json:"level_id,omitempty"`
}

func (e ApplicationSubmitted) GetType() EventType {
	return ApplicationSubmittedEvent
}

type StageEntered struct {
	BaseEvent

	FromStageID string `json:"from_stage_id,omitempty"`
	StageID     string `json:"stage_id"`
	LevelID     string `json:"level_id,omitempty"`
}

func (e StageEntered) GetType() EventType {
	return StageEnteredEvent
}

type StageReturned struct {
	BaseEvent

	FromStageID string `json:"from_stage_id"`
	StageID     string `json:"stage_id"`
	LevelID     string `json:"level_id,omitempty"`
}

func (e StageReturned) GetType() EventType {
	return StageReturnedEvent
}

type LevelAdvanced struct {
	BaseEvent

	StageID     string `json:"stage_id"`
	FromLevelID string `json:"from_level_id"`
	LevelID     string `json:"level_id"`
}

func (e LevelAdvanced) GetType() EventType {
	return LevelAdvancedEvent
}

// LevelApproved is emitted when an approver accepts a level, whether or not
// that completes the application.
type LevelApproved struct {
	BaseEvent

	StageID    string `json:"stage_id"`
	LevelID    string `json:"level_id"`
	ApproverID string `json:"approver_id"`
}

func (e LevelApproved) GetType() EventType {
	return LevelApprovedEvent
}

type ApplicationApproved struct {
	BaseEvent

	FinalStageID string `json:"final_stage_id"`
}

func (e ApplicationApproved) GetType() EventType {
	return ApplicationApprovedEvent
}

type ApplicationRejected struct {
	BaseEvent

	StageID    string `json:"stage_id"`
	LevelID    string `json:"level_id"`
	ApproverID string `json:"approver_id"`
	Notes      string `json:"notes,omitempty"`
}

func (e ApplicationRejected) GetType() EventType {
	return ApplicationRejectedEvent
}

type ApplicationCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e ApplicationCancelled) GetType() EventType {
	return ApplicationCancelledEvent
}

type RoleMapsRebuilt struct {
	BaseEvent

	MapTypes []string      `json:"map_types"`
	Rebuilt  int           `json:"rebuilt"`
	Duration time.Duration `json:"duration"`
}

func (e RoleMapsRebuilt) GetType() EventType {
	return RoleMapsRebuiltEvent
}

func NewBaseEvent(eventType EventType, applicationID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),

		ApplicationID: applicationID,
		Metadata:      make(map[string]any),
	}
}
