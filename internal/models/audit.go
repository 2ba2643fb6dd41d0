package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit holds creation, modification and soft-delete metadata.
// DeletedAt is non-nil exactly when IsDeleted is true.
type Audit struct {
	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by"`
	UpdatedAt time.Time  `json:"updated_at"`
	UpdatedBy string     `json:"updated_by"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
}

// AuditInfo returns a; it lets Audit satisfy Auditable.
func (a *Audit) AuditInfo() *Audit {
	return a
}

// Auditable entities are soft deleted and carry audit metadata.
type Auditable interface {
	Entity
	AuditInfo() *Audit
}

// TenantScope marks an entity as owned by a single tenant.
// A nil TenantID means not yet stamped.
type TenantScope struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

// TenantInfo returns t; it lets TenantScope satisfy TenantScoped.
func (t *TenantScope) TenantInfo() *TenantScope {
	return t
}

// TenantScoped entities are only visible to their own tenant.
type TenantScoped interface {
	Entity
	TenantInfo() *TenantScope
}

// IsAuditable reports whether e carries audit metadata.
func IsAuditable(e Entity) bool {
	_, ok := e.(Auditable)
	return ok
}

// IsTenantScoped reports whether e is owned by a tenant.
func IsTenantScoped(e Entity) bool {
	_, ok := e.(TenantScoped)
	return ok
}
