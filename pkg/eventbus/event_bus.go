// Package eventbus provides publish/subscribe plumbing for workflow lifecycle events.
package eventbus

import (
	"context"

	"github.com/echelonflow/echelon/pkg/events"
)

// Event is implemented by every lifecycle event payload.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is the write side of the bus. The engine publishes one event
// per instance and task transition, keyed by instance id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber is the read side. Register handlers with Handle, then call
// Subscribe once to start delivery.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event interface{}) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
