package uow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/models"
	"github.com/wolfeidau/stockroom/internal/store"
	"github.com/wolfeidau/stockroom/internal/tenant"
)

// SystemActor is recorded in audit fields when no actor is supplied.
const SystemActor = "system"

// State is the pending operation for an entity in the change set.
type State int

const (
	Added State = iota + 1
	Modified
	Removed
)

func (s State) String() string {
	switch s {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

type entityKey struct {
	kind string
	id   uuid.UUID
}

func keyOf(e models.Entity) entityKey {
	return entityKey{kind: e.Kind(), id: e.EntityBase().ID}
}

type entry struct {
	entity      models.Entity
	state       State
	softDeleted bool
}

// snapshot is what a repository saw when it materialized an entity.
type snapshot struct {
	entity   models.Entity
	tenantID uuid.UUID
}

// UnitOfWork owns one change set and commits it atomically. It must not be
// shared between goroutines serving different requests.
type UnitOfWork struct {
	factory *Factory
	tenant  *tenant.Context
	actor   string

	mu        sync.Mutex
	entries   []*entry
	index     map[entityKey]*entry
	snapshots map[entityKey]snapshot
	closed    bool
}

// Tenant returns the tenant context the unit of work is bound to.
func (u *UnitOfWork) Tenant() *tenant.Context {
	return u.tenant
}

// Actor returns the identity recorded in audit fields.
func (u *UnitOfWork) Actor() string {
	return u.actor
}

// Change describes one staged entity, in staging order.
type Change struct {
	Kind  string
	ID    uuid.UUID
	State State
}

// Changes returns the staged change set in staging order.
func (u *UnitOfWork) Changes() []Change {
	u.mu.Lock()
	defer u.mu.Unlock()

	changes := make([]Change, 0, len(u.entries))
	for _, e := range u.entries {
		changes = append(changes, Change{Kind: e.entity.Kind(), ID: e.entity.EntityBase().ID, State: e.state})
	}
	return changes
}

// HasChanges reports whether anything is staged.
func (u *UnitOfWork) HasChanges() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.entries) > 0
}

// Rollback discards the staged change set and closes the unit of work.
// Pending events stay on their entities.
func (u *UnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	u.reset()
	return nil
}

func (u *UnitOfWork) reset() {
	u.entries = nil
	u.index = nil
	u.snapshots = nil
	u.closed = true
}

// Commit runs the commit stages over the change set, persists it in one
// transaction and then dispatches the captured events. A returned
// *apperr.Error is a recoverable failure; any other error is infrastructure.
// The unit of work is closed afterwards whatever the outcome.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	defer u.reset()

	started := time.Now()
	f := u.factory

	if err := ctx.Err(); err != nil {
		return u.fail(ctx, "cancelled", fmt.Errorf("commit cancelled: %w", err))
	}

	if len(u.entries) == 0 {
		return nil
	}

	ambient, bound := u.tenant.Get()
	state := &commitState{
		entries: u.entries,
		now:     f.now().UTC(),
		actor:   u.actor,
		ambient: ambient,
		bound:   bound,
	}

	// a failed commit leaves the caller's entities unstamped
	saved := saveStamps(u.entries)
	abort := func(reason string, err error) error {
		restoreStamps(saved)
		return u.fail(ctx, reason, err)
	}

	for _, stage := range commitStages {
		if err := stage.run(state); err != nil {
			return abort(stage.Name, err)
		}
	}

	f.metrics.EventsCapturedTotal.Add(ctx, int64(len(state.events)))

	if err := ctx.Err(); err != nil {
		f.metrics.EventsDiscardedTotal.Add(ctx, int64(len(state.events)))
		return abort("cancelled", fmt.Errorf("commit cancelled: %w", err))
	}

	changes, err := buildChanges(state.entries, state.now, u.actor)
	if err != nil {
		f.metrics.EventsDiscardedTotal.Add(ctx, int64(len(state.events)))
		return abort("encode", err)
	}

	// Persistence either completes or rolls back; it is not abandoned midway.
	if err := f.engine.Apply(context.WithoutCancel(ctx), changes); err != nil {
		f.metrics.EventsDiscardedTotal.Add(ctx, int64(len(state.events)))
		return abort("persist", translateStoreError(err))
	}

	softDeletes := 0
	for _, e := range state.entries {
		if e.softDeleted {
			softDeletes++
		}
		base := e.entity.EntityBase()
		switch e.state {
		case Added:
			base.Version = 1
		case Modified:
			base.Version++
		}
	}

	f.metrics.CommitsTotal.Add(ctx, 1)
	f.metrics.ChangesPersistedTotal.Add(ctx, int64(len(changes)))
	f.metrics.CommitDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	f.logger.Debug().
		Str("tenant_id", u.tenant.String()).
		Str("actor", u.actor).
		Int("changes", len(changes)).
		Int("soft_deletes", softDeletes).
		Int("events", len(state.events)).
		Dur("duration", time.Since(started)).
		Msg("Unit of work committed")

	f.dispatcher.DispatchEvents(ctx, state.events)

	return nil
}

func (u *UnitOfWork) fail(ctx context.Context, reason string, err error) error {
	u.factory.metrics.CommitFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	if apperr.HasKind(err, apperr.KindConflict) {
		u.factory.metrics.VersionConflictsTotal.Add(ctx, 1)
	}

	evt := u.factory.logger.Debug()
	if _, ok := apperr.As(err); !ok {
		evt = u.factory.logger.Error()
	}
	evt.Err(err).
		Str("tenant_id", u.tenant.String()).
		Str("actor", u.actor).
		Str("reason", reason).
		Msg("Unit of work commit failed")

	return err
}

func translateStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrNotFound):
		return apperr.Conflict("version_conflict", "the record was changed by another writer; reload and retry")
	case errors.Is(err, store.ErrAlreadyExists):
		return apperr.Conflict("already_exists", "a record with this id already exists")
	case errors.Is(err, store.ErrTenantMismatch):
		return apperr.Forbidden("a record cannot move between tenants")
	default:
		return fmt.Errorf("failed to persist unit of work: %w", err)
	}
}

// stage adds, modifications and removals; called by repositories.

func (u *UnitOfWork) stageAdd(e models.Entity) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}

	base := e.EntityBase()
	if base.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate id: %w", err)
		}
		base.ID = id
	}

	key := keyOf(e)
	if _, ok := u.index[key]; ok {
		return apperr.Validation("duplicate_entity", fmt.Sprintf("%s %s is already tracked", key.kind, key.id))
	}
	if _, ok := u.snapshots[key]; ok {
		return apperr.Validation("duplicate_entity", fmt.Sprintf("%s %s already exists", key.kind, key.id))
	}

	u.append(&entry{entity: e, state: Added})
	return nil
}

func (u *UnitOfWork) stageModify(e models.Entity) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	if err := u.guardTenant(e); err != nil {
		return err
	}

	key := keyOf(e)
	if existing, ok := u.index[key]; ok {
		switch existing.state {
		case Removed:
			return apperr.Validation("entity_removed", fmt.Sprintf("%s %s is staged for removal", key.kind, key.id))
		default:
			existing.entity = e
			return nil
		}
	}

	u.append(&entry{entity: e, state: Modified})
	return nil
}

func (u *UnitOfWork) stageRemove(e models.Entity) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	if err := u.guardTenant(e); err != nil {
		return err
	}

	if a, ok := e.(models.Auditable); ok && a.AuditInfo().IsDeleted {
		return nil
	}

	key := keyOf(e)
	if existing, ok := u.index[key]; ok {
		if existing.state == Added {
			u.drop(key)
			return nil
		}
		existing.entity = e
		existing.state = Removed
		return nil
	}

	u.append(&entry{entity: e, state: Removed})
	return nil
}

// guardTenant rejects writes to entities owned by another tenant and any
// change of an entity's tenant since it was loaded.
func (u *UnitOfWork) guardTenant(e models.Entity) error {
	scoped, ok := e.(models.TenantScoped)
	if !ok {
		return nil
	}
	tenantID := scoped.TenantInfo().TenantID

	if snap, ok := u.snapshots[keyOf(e)]; ok && snap.tenantID != tenantID {
		return apperr.Forbidden("the tenant of an existing entity cannot be changed")
	}

	if ambient, bound := u.tenant.Get(); bound && tenantID != uuid.Nil && tenantID != ambient {
		return apperr.Forbidden("entity belongs to another tenant")
	}

	return nil
}

func (u *UnitOfWork) append(e *entry) {
	u.entries = append(u.entries, e)
	u.index[keyOf(e.entity)] = e
}

func (u *UnitOfWork) drop(key entityKey) {
	delete(u.index, key)
	for i, e := range u.entries {
		if keyOf(e.entity) == key {
			u.entries = append(u.entries[:i], u.entries[i+1:]...)
			return
		}
	}
}

// track records the entity a repository materialized, returning the instance
// already tracked for the same key so a unit of work sees one copy per row.
func (u *UnitOfWork) track(e models.Entity, tenantID uuid.UUID) (models.Entity, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, ErrClosed
	}

	key := keyOf(e)
	if snap, ok := u.snapshots[key]; ok {
		return snap.entity, nil
	}
	u.snapshots[key] = snapshot{entity: e, tenantID: tenantID}
	return e, nil
}

func buildChanges(entries []*entry, now time.Time, actor string) ([]store.Change, error) {
	changes := make([]store.Change, 0, len(entries))
	for _, e := range entries {
		rec, err := toRecord(e.entity)
		if err != nil {
			return nil, err
		}

		// non-auditable kinds still get storage timestamps
		if _, ok := e.entity.(models.Auditable); !ok {
			rec.CreatedAt, rec.CreatedBy = now, actor
			rec.UpdatedAt, rec.UpdatedBy = now, actor
		}

		var op store.Op
		switch e.state {
		case Added:
			op = store.OpInsert
			rec.Version = 1
		case Modified:
			op = store.OpUpdate
		case Removed:
			op = store.OpDelete
		}
		changes = append(changes, store.Change{Op: op, Record: rec})
	}
	return changes, nil
}

func toRecord(e models.Entity) (*store.Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", e.Kind(), err)
	}

	base := e.EntityBase()
	rec := &store.Record{
		Kind:    e.Kind(),
		ID:      base.ID,
		Version: base.Version,
		Data:    data,
	}

	if scoped, ok := e.(models.TenantScoped); ok {
		rec.TenantID = scoped.TenantInfo().TenantID
	}

	if a, ok := e.(models.Auditable); ok {
		audit := a.AuditInfo()
		rec.CreatedAt = audit.CreatedAt
		rec.CreatedBy = audit.CreatedBy
		rec.UpdatedAt = audit.UpdatedAt
		rec.UpdatedBy = audit.UpdatedBy
		rec.IsDeleted = audit.IsDeleted
		rec.DeletedAt = audit.DeletedAt
		rec.DeletedBy = audit.DeletedBy
	}

	return rec, nil
}
