// Package events delivers domain events to in-process handlers after a unit
// of work has committed.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/stockroom/internal/models"
	"github.com/wolfeidau/stockroom/internal/telemetry"
)

// Handler reacts to a committed domain event.
type Handler interface {
	Handle(ctx context.Context, event models.DomainEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event models.DomainEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event models.DomainEvent) error {
	return f(ctx, event)
}

// Dispatcher routes events to the handlers registered for their kind.
// Registration is expected at startup; dispatch is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

// NewDispatcher creates an empty dispatcher logging to logger.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger.With().Str("component", "events").Logger(),
		metrics:  telemetry.GetMetrics(),
	}
}

// Register adds h for events whose EventKind is kind. Handlers for one kind
// run in registration order.
func (d *Dispatcher) Register(kind string, h Handler) {
	if kind == "" || h == nil {
		panic("events: Register requires a kind and a handler")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

// Subscribe registers a typed handler. The kind is taken from E's zero value,
// so EventKind must not depend on field values.
func Subscribe[E models.DomainEvent](d *Dispatcher, fn func(ctx context.Context, event E) error) {
	var zero E
	d.Register(zero.EventKind(), HandlerFunc(func(ctx context.Context, event models.DomainEvent) error {
		typed, ok := event.(E)
		if !ok {
			return fmt.Errorf("event %s has unexpected type %T", event.EventKind(), event)
		}
		return fn(ctx, typed)
	}))
}

// HandlerCount returns the number of handlers registered for kind.
func (d *Dispatcher) HandlerCount(kind string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[kind])
}

// DispatchEvents delivers events in order. A failing or panicking handler is
// logged and counted; it never stops delivery to the remaining handlers.
func (d *Dispatcher) DispatchEvents(ctx context.Context, events []models.DomainEvent) {
	if len(events) == 0 {
		return
	}

	started := time.Now()

	for _, event := range events {
		d.mu.RLock()
		handlers := d.handlers[event.EventKind()]
		d.mu.RUnlock()

		attrs := metric.WithAttributes(attribute.String("event_kind", event.EventKind()))

		if len(handlers) == 0 {
			d.logger.Debug().Str("event_kind", event.EventKind()).Msg("No handlers registered for event")
			continue
		}

		for i, h := range handlers {
			if err := d.invoke(ctx, h, event); err != nil {
				d.metrics.EventHandlerErrorsTotal.Add(ctx, 1, attrs)
				d.logger.Error().
					Err(err).
					Str("event_kind", event.EventKind()).
					Str("tenant_id", event.Tenant().String()).
					Int("handler", i).
					Msg("Event handler failed")
			}
		}

		d.metrics.EventsDispatchedTotal.Add(ctx, 1, attrs)
	}

	d.metrics.EventDispatchDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, event models.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.EventHandlerPanicsTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("event_kind", event.EventKind())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Handle(ctx, event)
}

// LogHandler returns a handler that logs every event it receives at debug level.
func LogHandler() Handler {
	return HandlerFunc(func(ctx context.Context, event models.DomainEvent) error {
		log.Ctx(ctx).Debug().
			Str("event_kind", event.EventKind()).
			Str("tenant_id", event.Tenant().String()).
			Time("occurred_at", event.OccurredAt()).
			Msg("Domain event")
		return nil
	})
}
