package models

import (
	"sync"

	"github.com/google/uuid"
)

// MaxPendingEvents bounds the events an entity may buffer between commits.
const MaxPendingEvents = 256

// Entity is implemented by every persisted type through an embedded Base.
type Entity interface {
	// Kind is the storage discriminator, e.g. "product".
	Kind() string
	EntityBase() *Base
}

// Base carries identity, the version token and the pending event buffer.
// Entities are always handled by pointer; Base must not be copied once events
// have been raised.
type Base struct {
	ID      uuid.UUID `json:"id"`
	Version int64     `json:"version"`

	mu       sync.Mutex
	pending  []DomainEvent
	overflow bool
}

// EntityBase returns b; it lets Base satisfy part of Entity.
func (b *Base) EntityBase() *Base {
	return b
}

// Raise appends an event produced by one of the entity's own operations.
func (b *Base) Raise(event DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) >= MaxPendingEvents {
		b.overflow = true
		return
	}
	b.pending = append(b.pending, event)
}

// PendingEvents returns a copy of the buffered events without draining them.
func (b *Base) PendingEvents() []DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DomainEvent(nil), b.pending...)
}

// DrainEvents hands over the buffered events and clears the buffer. The
// second return value reports whether events were lost to the bound.
func (b *Base) DrainEvents() ([]DomainEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events, overflow := b.pending, b.overflow
	b.pending = nil
	b.overflow = false
	return events, overflow
}
