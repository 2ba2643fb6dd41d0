package uow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/models"
)

// Stage names, in the order Commit runs them.
const (
	StageTenantStamping    = "tenant-stamping"
	StageAuditStamping     = "audit-stamping"
	StageSoftDeleteRewrite = "soft-delete-rewrite"
	StageEventCapture      = "event-capture"
)

type commitState struct {
	entries []*entry
	now     time.Time
	actor   string
	ambient uuid.UUID
	bound   bool
	events  []models.DomainEvent
}

type stage struct {
	Name string
	run  func(*commitState) error
}

// The order is part of the commit contract: stamping precedes persistence,
// the soft-delete rewrite sees already stamped entities, and events are
// captured from the final change set.
var commitStages = []stage{
	{Name: StageTenantStamping, run: stampTenant},
	{Name: StageAuditStamping, run: stampAudit},
	{Name: StageSoftDeleteRewrite, run: rewriteSoftDeletes},
	{Name: StageEventCapture, run: captureEvents},
}

// CommitStages returns the names of the commit stages in execution order.
func CommitStages() []string {
	names := make([]string, len(commitStages))
	for i, s := range commitStages {
		names[i] = s.Name
	}
	return names
}

func stampTenant(cs *commitState) error {
	for _, e := range cs.entries {
		if e.state != Added {
			continue
		}
		scoped, ok := e.entity.(models.TenantScoped)
		if !ok {
			continue
		}

		info := scoped.TenantInfo()
		switch {
		case info.TenantID != uuid.Nil:
			if cs.bound && info.TenantID != cs.ambient {
				return apperr.Forbidden(fmt.Sprintf("%s %s is attributed to another tenant", e.entity.Kind(), e.entity.EntityBase().ID))
			}
		case !cs.bound:
			return apperr.Validation("tenant_required",
				fmt.Sprintf("%s requires a tenant but the unit of work has none", e.entity.Kind()))
		default:
			info.TenantID = cs.ambient
		}
	}
	return nil
}

func stampAudit(cs *commitState) error {
	for _, e := range cs.entries {
		a, ok := e.entity.(models.Auditable)
		if !ok {
			continue
		}

		audit := a.AuditInfo()
		if e.state != Removed {
			if audit.IsDeleted != (audit.DeletedAt != nil) {
				return apperr.Validation("deletion_state_inconsistent",
					fmt.Sprintf("%s %s: is_deleted and deleted_at must be set together", e.entity.Kind(), e.entity.EntityBase().ID))
			}
			if !audit.IsDeleted {
				audit.DeletedBy = ""
			}
		}

		switch e.state {
		case Added:
			audit.CreatedAt, audit.CreatedBy = cs.now, cs.actor
			audit.UpdatedAt, audit.UpdatedBy = cs.now, cs.actor
		case Modified:
			audit.UpdatedAt, audit.UpdatedBy = cs.now, cs.actor
		}
	}
	return nil
}

func rewriteSoftDeletes(cs *commitState) error {
	for _, e := range cs.entries {
		if e.state != Removed {
			continue
		}
		a, ok := e.entity.(models.Auditable)
		if !ok {
			continue
		}

		audit := a.AuditInfo()
		if !audit.IsDeleted {
			deletedAt := cs.now
			audit.IsDeleted = true
			audit.DeletedAt = &deletedAt
			audit.DeletedBy = cs.actor
		}
		e.state = Modified
		e.softDeleted = true
	}
	return nil
}

func captureEvents(cs *commitState) error {
	var overflowed []string
	for _, e := range cs.entries {
		drained, overflow := e.entity.EntityBase().DrainEvents()
		if overflow {
			overflowed = append(overflowed, fmt.Sprintf("%s %s", e.entity.Kind(), e.entity.EntityBase().ID))
		}
		attributeEvents(e.entity, drained)
		cs.events = append(cs.events, drained...)
	}

	if len(overflowed) > 0 {
		cs.events = nil
		return apperr.Validation("event_buffer_overflow",
			fmt.Sprintf("more than %d pending events on %v", models.MaxPendingEvents, overflowed))
	}
	return nil
}

// attributeEvents gives events raised before the entity was tenant stamped
// the entity's tenant.
func attributeEvents(entity models.Entity, events []models.DomainEvent) {
	scoped, ok := entity.(models.TenantScoped)
	if !ok {
		return
	}
	tenantID := scoped.TenantInfo().TenantID
	if tenantID == uuid.Nil {
		return
	}

	for i, event := range events {
		if event.Tenant() != uuid.Nil {
			continue
		}
		if assignable, ok := event.(models.TenantAssignable); ok {
			events[i] = assignable.WithTenant(tenantID)
		}
	}
}

// stamps are the fields the commit stages write on one entity.
type stamps struct {
	entity    models.Entity
	tenantID  uuid.UUID
	audit     models.Audit
	scoped    bool
	auditable bool
}

func saveStamps(entries []*entry) []stamps {
	saved := make([]stamps, 0, len(entries))
	for _, e := range entries {
		st := stamps{entity: e.entity}
		if scoped, ok := e.entity.(models.TenantScoped); ok {
			st.scoped = true
			st.tenantID = scoped.TenantInfo().TenantID
		}
		if a, ok := e.entity.(models.Auditable); ok {
			st.auditable = true
			st.audit = *a.AuditInfo()
		}
		saved = append(saved, st)
	}
	return saved
}

// restoreStamps puts entities back as they were before a failed commit.
// Drained events are not restored.
func restoreStamps(saved []stamps) {
	for _, st := range saved {
		if st.scoped {
			st.entity.(models.TenantScoped).TenantInfo().TenantID = st.tenantID
		}
		if st.auditable {
			*st.entity.(models.Auditable).AuditInfo() = st.audit
		}
	}
}
