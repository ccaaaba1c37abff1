package plugin

import (
	"context"
	"time"
)

// Event is a message published on the event bus.
type Event struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventHandler handles a delivered event.
type EventHandler func(ctx context.Context, event Event)

// EventBus delivers events between modules.
type EventBus interface {
	// Publish delivers the event synchronously to every matching handler.
	Publish(ctx context.Context, event Event) error

	// PublishAsync delivers the event without waiting for handlers.
	PublishAsync(ctx context.Context, event Event)

	// Subscribe registers a handler for one topic and returns an unsubscribe func.
	Subscribe(topic string, handler EventHandler) func()

	// SubscribeAll registers a handler for every topic.
	SubscribeAll(handler EventHandler) func()
}
