// Package eventbus provides the lifecycle event dispatch used by the
// calculation engine for observability.
package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event.
type EventType string

// Standard event types
const (
	// Compilation events
	EventCompileStarted  EventType = "compile_started"
	EventCompileCacheHit EventType = "compile_cache_hit"
	EventCompileSuccess  EventType = "compile_success"
	EventCompileFailure  EventType = "compile_failure"

	// Plan invocation events
	EventInvocationStarted EventType = "invocation_started"
	EventInvocationSuccess EventType = "invocation_success"
	EventInvocationFailure EventType = "invocation_failure"

	// Interpreter events
	EventInterpretStarted EventType = "interpret_started"
	EventInterpretSuccess EventType = "interpret_success"
	EventInterpretFailure EventType = "interpret_failure"

	// Plan persistence events
	EventPlanRelinked      EventType = "plan_relinked"
	EventPlanRelinkSkipped EventType = "plan_relink_skipped"
	EventPlanPersisted     EventType = "plan_persisted"

	// Async run events
	EventRunStarted   EventType = "run_started"
	EventRunProgress  EventType = "run_progress"
	EventRunSuccess   EventType = "run_success"
	EventRunFailure   EventType = "run_failure"
	EventRunCancelled EventType = "run_cancelled"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
)

// EventHandler is a function that handles events.
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the engine.
type Event interface {
	// Type returns the event type.
	Type() EventType

	// Payload returns the event data.
	Payload() interface{}

	// Metadata returns additional information about the event.
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() int64

	// Source returns information about what generated the event.
	Source() string
}

// EventBus is the central event dispatch system.
type EventBus interface {
	// Publish sends an event to all subscribed handlers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types.
	// Returns a subscription ID that can be used to unsubscribe.
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types.
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources.
	Close() error
}

// BaseEvent is a simple implementation of the Event interface.
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent.
func NewEvent(
	eventType EventType,
	payload interface{},
	source string,
	metadata map[string]interface{},
) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

func (e *BaseEvent) Type() EventType { return e.eventType }

func (e *BaseEvent) Payload() interface{} { return e.payload }

func (e *BaseEvent) Metadata() map[string]interface{} { return e.metadata }

func (e *BaseEvent) Timestamp() int64 { return e.timestamp }

func (e *BaseEvent) Source() string { return e.sourceInfo }

// WithMetadata adds or updates a metadata entry and returns the same event
// for fluent chaining.
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}
