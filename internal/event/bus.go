// Package event dispatches domain events to in-process handlers.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Event is a domain event value
type Event interface {
	EventName() string
}

// Handler receives a published event
type Handler func(ctx context.Context, e Event) error

// Publisher emits domain events
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Wildcard subscribes a handler to every event name
const Wildcard = "*"

// Bus delivers events synchronously to registered handlers, in subscription
// order. A failing handler does not prevent later handlers from running.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for the named event (or Wildcard)
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish delivers e to every matching handler and joins their errors
func (b *Bus) Publish(ctx context.Context, e Event) error {
	name := e.EventName()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[name])+len(b.handlers[Wildcard]))
	handlers = append(handlers, b.handlers[name]...)
	handlers = append(handlers, b.handlers[Wildcard]...)
	b.mu.RUnlock()

	var errs []error
	for i, h := range handlers {
		if err := safeCall(ctx, h, e); err != nil {
			b.logger.Warn().Err(err).
				Str("event", name).
				Int("handler", i).
				Msg("event handler failed")
			errs = append(errs, err)
		}
	}

	b.logger.Debug().Str("event", name).Int("handlers", len(handlers)).Msg("event published")
	return errors.Join(errs...)
}

// safeCall runs a handler, turning a panic into an error
func safeCall(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked on %s: %v", e.EventName(), r)
		}
	}()
	return h(ctx, e)
}

// NopPublisher discards every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
