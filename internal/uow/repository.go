package uow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/models"
	"github.com/wolfeidau/stockroom/internal/store"
)

// EntityPtr constrains P to be a pointer to E implementing models.Entity.
type EntityPtr[E any] interface {
	*E
	models.Entity
}

// Repository is a typed facade over one entity kind within a unit of work.
// Reads of tenant-scoped kinds are restricted to the ambient tenant and never
// return soft-deleted rows; writes are staged on the unit of work.
type Repository[E any, P EntityPtr[E]] struct {
	work      *UnitOfWork
	kind      string
	scoped    bool
	auditable bool
}

// NewRepository returns a repository for E bound to work.
func NewRepository[E any, P EntityPtr[E]](work *UnitOfWork) *Repository[E, P] {
	zero := P(new(E))
	return &Repository[E, P]{
		work:      work,
		kind:      zero.Kind(),
		scoped:    models.IsTenantScoped(zero),
		auditable: models.IsAuditable(zero),
	}
}

// GetByID returns the entity with id, or an apperr NotFound error when it
// does not exist, is soft-deleted or belongs to another tenant.
func (r *Repository[E, P]) GetByID(ctx context.Context, id uuid.UUID) (P, error) {
	rec, err := r.work.factory.engine.Get(ctx, r.kind, id, r.filter(false))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(r.kind, id.String())
		}
		return nil, fmt.Errorf("failed to load %s %s: %w", r.kind, id, err)
	}
	return r.materialize(rec)
}

// Find returns every visible entity matching pred; a nil pred matches all.
func (r *Repository[E, P]) Find(ctx context.Context, pred func(P) bool) ([]P, error) {
	return r.Query().Where(pred).List(ctx)
}

// FirstOrDefault returns the first visible entity matching pred, or nil.
func (r *Repository[E, P]) FirstOrDefault(ctx context.Context, pred func(P) bool) (P, error) {
	found, err := r.Query().Where(pred).Limit(1).List(ctx)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

// Count returns the number of visible entities matching pred.
func (r *Repository[E, P]) Count(ctx context.Context, pred func(P) bool) (int, error) {
	return r.Query().Where(pred).Count(ctx)
}

// Any reports whether a visible entity matches pred.
func (r *Repository[E, P]) Any(ctx context.Context, pred func(P) bool) (bool, error) {
	e, err := r.FirstOrDefault(ctx, pred)
	return e != nil, err
}

// Add stages e for insertion, assigning a UUIDv7 when its id is unset. A
// tenant-scoped entity keeps an unset tenant until the commit stamps it.
func (r *Repository[E, P]) Add(e P) error {
	if e == nil {
		return apperr.Validation("nil_entity", "cannot add a nil "+r.kind)
	}
	return r.work.stageAdd(e)
}

// AddRange stages several inserts, stopping at the first failure.
func (r *Repository[E, P]) AddRange(es ...P) error {
	for _, e := range es {
		if err := r.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// Update stages a modification of e. It fails with Forbidden when e belongs
// to another tenant or its tenant changed since it was loaded.
func (r *Repository[E, P]) Update(e P) error {
	if e == nil {
		return apperr.Validation("nil_entity", "cannot update a nil "+r.kind)
	}
	return r.work.stageModify(e)
}

// Remove stages a removal of e. Auditable kinds are soft-deleted at commit;
// removing an already deleted entity does nothing.
func (r *Repository[E, P]) Remove(e P) error {
	if e == nil {
		return apperr.Validation("nil_entity", "cannot remove a nil "+r.kind)
	}
	return r.work.stageRemove(e)
}

// Query starts a composable query over the visible entities.
func (r *Repository[E, P]) Query() *Query[E, P] {
	return &Query[E, P]{repo: r}
}

func (r *Repository[E, P]) filter(includeDeleted bool) store.Filter {
	f := store.Filter{IncludeDeleted: includeDeleted || !r.auditable}
	if r.scoped {
		if ambient, bound := r.work.tenant.Get(); bound {
			f.TenantID = ambient
		}
	}
	return f
}

func (r *Repository[E, P]) list(ctx context.Context, includeDeleted bool) ([]P, error) {
	recs, err := r.work.factory.engine.List(ctx, r.kind, r.filter(includeDeleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.kind, err)
	}

	out := make([]P, 0, len(recs))
	for _, rec := range recs {
		e, err := r.materialize(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// materialize decodes rec, overlays the storage-owned columns and registers
// the entity with the unit of work.
func (r *Repository[E, P]) materialize(rec *store.Record) (P, error) {
	e := P(new(E))
	if err := json.Unmarshal(rec.Data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", r.kind, rec.ID, err)
	}

	base := e.EntityBase()
	base.ID = rec.ID
	base.Version = rec.Version

	if scoped, ok := any(e).(models.TenantScoped); ok {
		scoped.TenantInfo().TenantID = rec.TenantID
	}

	if a, ok := any(e).(models.Auditable); ok {
		*a.AuditInfo() = models.Audit{
			CreatedAt: rec.CreatedAt,
			CreatedBy: rec.CreatedBy,
			UpdatedAt: rec.UpdatedAt,
			UpdatedBy: rec.UpdatedBy,
			IsDeleted: rec.IsDeleted,
			DeletedAt: rec.DeletedAt,
			DeletedBy: rec.DeletedBy,
		}
	}

	tracked, err := r.work.track(e, rec.TenantID)
	if err != nil {
		return nil, err
	}

	typed, ok := tracked.(P)
	if !ok {
		return nil, fmt.Errorf("tracked %s %s has unexpected type %T", r.kind, rec.ID, tracked)
	}
	return typed, nil
}
