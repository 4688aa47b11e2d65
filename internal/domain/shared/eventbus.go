package shared

import "context"

// EventHandler reacts to published events. EventTypes lists the types it
// wants; an empty list subscribes to everything.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}

// EventPublisher hands events to subscribers. Handler failures are the
// bus's concern and never reach the publisher.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventSubscriber manages handler registrations
type EventSubscriber interface {
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
}

// EventBus is a publisher and subscriber with a lifecycle
type EventBus interface {
	EventPublisher
	EventSubscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// FuncHandler adapts a function to EventHandler
type FuncHandler struct {
	fn    func(ctx context.Context, event DomainEvent) error
	types []string
}

// NewFuncHandler returns a handler calling fn for the given event types
func NewFuncHandler(fn func(ctx context.Context, event DomainEvent) error, eventTypes ...string) *FuncHandler {
	return &FuncHandler{fn: fn, types: eventTypes}
}

// Handle implements EventHandler
func (h *FuncHandler) Handle(ctx context.Context, event DomainEvent) error {
	return h.fn(ctx, event)
}

// EventTypes implements EventHandler
func (h *FuncHandler) EventTypes() []string {
	return h.types
}
