// Package eventbus provides event-driven communication between the workflow
// engine and the notification machinery.
package eventbus

import (
	"context"

	"github.com/approvio/approvio/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish emits an event under a partition key. Events sharing a key
	// keep their relative order.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
