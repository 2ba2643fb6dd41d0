package models

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is an immutable fact produced by an entity's business operation.
type DomainEvent interface {
	// EventKind is the stable routing tag, e.g. "inventory.sale_recorded".
	EventKind() string
	OccurredAt() time.Time
	Tenant() uuid.UUID
}

// TenantAssignable is implemented by events that can be attributed to their
// entity's tenant when they were raised before the entity was stamped.
type TenantAssignable interface {
	DomainEvent
	WithTenant(tenantID uuid.UUID) DomainEvent
}

// EventMeta is embedded by concrete events.
type EventMeta struct {
	At       time.Time `json:"occurred_at"`
	TenantID uuid.UUID `json:"tenant_id"`
}

// NewEventMeta stamps an event with the current time and the owning tenant.
func NewEventMeta(tenantID uuid.UUID) EventMeta {
	return EventMeta{At: time.Now().UTC(), TenantID: tenantID}
}

func (m EventMeta) OccurredAt() time.Time { return m.At }

func (m EventMeta) Tenant() uuid.UUID { return m.TenantID }
