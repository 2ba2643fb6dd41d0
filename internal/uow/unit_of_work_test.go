package uow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/models"
	"github.com/wolfeidau/stockroom/internal/store"
	"github.com/wolfeidau/stockroom/internal/tenant"
)

func TestCommitStages_Order(t *testing.T) {
	require.Equal(t, []string{
		StageTenantStamping,
		StageAuditStamping,
		StageSoftDeleteRewrite,
		StageEventCapture,
	}, CommitStages())
}

func TestBegin_RequiresTenantContext(t *testing.T) {
	h := newHarness()
	_, err := h.factory.Begin(nil, "alice")
	require.ErrorIs(t, err, ErrNoTenantContext)

	work, err := h.factory.Begin(tenant.New(), "")
	require.NoError(t, err)
	require.Equal(t, SystemActor, work.Actor())
}

func TestCommit_StampsTenantAndAudit(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()

	work := h.begin(t, t1)
	p := &item{Name: "bolt"}
	require.NoError(t, NewRepository[item](work).Add(p))
	require.Equal(t, uuid.Nil, p.TenantID, "add leaves the tenant unset")
	require.NotEqual(t, uuid.Nil, p.ID, "add assigns an id")

	require.NoError(t, work.Commit(context.Background()))

	assert.Equal(t, t1, p.TenantID)
	assert.Equal(t, fixedNow, p.CreatedAt)
	assert.Equal(t, "alice", p.CreatedBy)
	assert.Equal(t, fixedNow, p.UpdatedAt)
	assert.Equal(t, int64(1), p.Version)
	assert.False(t, p.IsDeleted)
	assert.Empty(t, h.dispatcher.Events(), "plain creation raises no events")

	rec, err := h.engine.Get(context.Background(), "test_item", p.ID, store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, t1, rec.TenantID)
	assert.Equal(t, "alice", rec.CreatedBy)
}

func TestCommit_ModifyKeepsCreationStamp(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	seeded := h.seed(t, t1, "bolt")[0]

	later := fixedNow.Add(time.Hour)
	h.factory.now = func() time.Time { return later }

	work := h.begin(t, t1)
	repo := NewRepository[item](work)
	loaded, err := repo.GetByID(context.Background(), seeded.ID)
	require.NoError(t, err)

	loaded.Name = "bolt m8"
	require.NoError(t, repo.Update(loaded))
	require.NoError(t, work.Commit(context.Background()))

	assert.Equal(t, fixedNow, loaded.CreatedAt)
	assert.Equal(t, later, loaded.UpdatedAt)
	assert.Equal(t, int64(2), loaded.Version)
}

func TestCommit_TenantRequired(t *testing.T) {
	h := newHarness()

	work := h.begin(t, uuid.Nil)
	require.NoError(t, NewRepository[item](work).Add(&item{Name: "orphan"}))

	err := work.Commit(context.Background())
	require.True(t, apperr.HasKind(err, apperr.KindValidation))
	ae, _ := apperr.As(err)
	require.Equal(t, "tenant_required", ae.Code)
	require.Equal(t, 0, h.engine.Len())
}

func TestCommit_GlobalKindsNeedNoTenant(t *testing.T) {
	h := newHarness()

	work := h.begin(t, uuid.Nil)
	require.NoError(t, NewRepository[label](work).Add(&label{Code: "EA"}))
	require.NoError(t, work.Commit(context.Background()))
	require.Equal(t, 1, h.engine.Len())
}

func TestCommit_AddForAnotherTenantIsForbidden(t *testing.T) {
	h := newHarness()

	work := h.begin(t, uuid.New())
	foreign := &item{Name: "smuggled"}
	foreign.TenantID = uuid.New()
	require.NoError(t, NewRepository[item](work).Add(foreign))

	err := work.Commit(context.Background())
	require.True(t, apperr.HasKind(err, apperr.KindForbidden))
	require.Equal(t, 0, h.engine.Len())
}

func TestCommit_SoftDelete(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	seeded := h.seed(t, t1, "bolt")[0]

	deletedAt := fixedNow.Add(2 * time.Hour)
	h.factory.now = func() time.Time { return deletedAt }

	work := h.begin(t, t1)
	repo := NewRepository[item](work)
	loaded, err := repo.GetByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Remove(loaded))
	require.NoError(t, work.Commit(context.Background()))

	rec, err := h.engine.Get(context.Background(), "test_item", seeded.ID, store.Filter{IncludeDeleted: true})
	require.NoError(t, err, "auditable rows are never physically deleted")
	require.True(t, rec.IsDeleted)
	require.NotNil(t, rec.DeletedAt)
	assert.Equal(t, deletedAt, *rec.DeletedAt)
	assert.Equal(t, "alice", rec.DeletedBy)
	// audit stamping runs before the rewrite, so the delete is not an update
	assert.Equal(t, fixedNow, rec.UpdatedAt)

	_, err = NewRepository[item](h.begin(t, t1)).GetByID(context.Background(), seeded.ID)
	require.True(t, apperr.HasKind(err, apperr.KindNotFound))

	t.Run("second remove is a no-op", func(t *testing.T) {
		h.factory.now = func() time.Time { return deletedAt.Add(time.Hour) }

		work := h.begin(t, t1)
		repo := NewRepository[item](work)
		again, err := repo.Query().IncludeDeleted().Where(func(i *item) bool { return i.ID == seeded.ID }).First(context.Background())
		require.NoError(t, err)
		require.NoError(t, repo.Remove(again))
		require.False(t, work.HasChanges())
		require.NoError(t, work.Commit(context.Background()))

		rec, err := h.engine.Get(context.Background(), "test_item", seeded.ID, store.Filter{IncludeDeleted: true})
		require.NoError(t, err)
		assert.Equal(t, deletedAt, *rec.DeletedAt)
		assert.Equal(t, int64(2), rec.Version)
	})
}

func TestCommit_NonAuditableIsPhysicallyDeleted(t *testing.T) {
	h := newHarness()

	work := h.begin(t, uuid.Nil)
	l := &label{Code: "KG"}
	require.NoError(t, NewRepository[label](work).Add(l))
	require.NoError(t, work.Commit(context.Background()))
	require.Equal(t, 1, h.engine.Len())

	work = h.begin(t, uuid.Nil)
	repo := NewRepository[label](work)
	loaded, err := repo.GetByID(context.Background(), l.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Remove(loaded))
	require.NoError(t, work.Commit(context.Background()))
	require.Equal(t, 0, h.engine.Len())
}

func TestCommit_AddThenRemoveWritesNothing(t *testing.T) {
	h := newHarness()

	work := h.begin(t, uuid.New())
	repo := NewRepository[item](work)
	p := &item{Name: "transient"}
	require.NoError(t, repo.Add(p))
	require.NoError(t, repo.Remove(p))
	require.False(t, work.HasChanges())
	require.NoError(t, work.Commit(context.Background()))
	require.Equal(t, 0, h.engine.Len())
}

func TestCommit_EventsDispatchedAfterPersist(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	seeded := h.seed(t, t1, "bolt", "nut")

	work := h.begin(t, t1)
	repo := NewRepository[item](work)
	for _, s := range []*item{seeded[1], seeded[0]} {
		loaded, err := repo.GetByID(context.Background(), s.ID)
		require.NoError(t, err)
		loaded.Restock(5)
		loaded.Restock(1)
		require.NoError(t, repo.Update(loaded))
	}
	require.NoError(t, work.Commit(context.Background()))

	events := h.dispatcher.Events()
	require.Len(t, events, 4)
	got := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		got = append(got, e.(restocked).ItemID)
		assert.Equal(t, t1, e.Tenant())
	}
	require.Equal(t, []uuid.UUID{seeded[1].ID, seeded[1].ID, seeded[0].ID, seeded[0].ID}, got)
	require.Equal(t, 2, h.dispatcher.calls, "seed commit plus this one")
}

func TestCommit_PersistFailureDiscardsEvents(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	seeded := h.seed(t, t1, "bolt")[0]
	calls := h.dispatcher.calls

	work := h.begin(t, t1)
	repo := NewRepository[item](work)
	loaded, err := repo.GetByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	loaded.Restock(3)
	require.NoError(t, repo.Update(loaded))

	h.engine.failing = true
	err = work.Commit(context.Background())
	require.ErrorIs(t, err, errStorageDown)
	_, recoverable := apperr.As(err)
	require.False(t, recoverable)

	require.Equal(t, calls, h.dispatcher.calls, "no handler runs for a failed commit")
	require.Empty(t, loaded.PendingEvents(), "buffers are not restored")
	require.Equal(t, int64(1), loaded.Version)
}

func TestCommit_PersistFailureRestoresEntities(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	ctx := context.Background()
	seeded := h.seed(t, t1, "bolt")[0]

	work := h.begin(t, t1)
	repo := NewRepository[item](work)
	loaded, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Remove(loaded))
	fresh := &item{Name: "nut"}
	require.NoError(t, repo.Add(fresh))

	h.engine.failing = true
	require.ErrorIs(t, work.Commit(ctx), errStorageDown)

	require.False(t, loaded.IsDeleted)
	require.Nil(t, loaded.DeletedAt)
	require.Empty(t, loaded.DeletedBy)
	require.Equal(t, fixedNow, loaded.UpdatedAt)
	require.Equal(t, uuid.Nil, fresh.TenantID)
	require.True(t, fresh.CreatedAt.IsZero())
	require.Empty(t, fresh.CreatedBy)

	h.engine.failing = false
	retry := h.begin(t, t1)
	require.NoError(t, NewRepository[item](retry).Remove(loaded))
	require.True(t, retry.HasChanges(), "the failed commit left no deletion behind")
	require.NoError(t, retry.Commit(ctx))

	_, err = NewRepository[item](h.begin(t, t1)).GetByID(ctx, seeded.ID)
	require.True(t, apperr.HasKind(err, apperr.KindNotFound))
}

func TestCommit_DeletionStateMustBeConsistent(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	ctx := context.Background()
	seeded := h.seed(t, t1, "bolt")[0]

	work := h.begin(t, t1)
	repo := NewRepository[item](work)
	loaded, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Remove(loaded))
	require.NoError(t, work.Commit(ctx))

	loadDeleted := func(t *testing.T, work *UnitOfWork) *item {
		t.Helper()
		deleted, err := NewRepository[item](work).Query().IncludeDeleted().
			Where(func(i *item) bool { return i.ID == seeded.ID }).First(ctx)
		require.NoError(t, err)
		require.True(t, deleted.IsDeleted)
		return deleted
	}

	t.Run("clearing only the flag is rejected", func(t *testing.T) {
		work := h.begin(t, t1)
		deleted := loadDeleted(t, work)
		deleted.IsDeleted = false
		require.NoError(t, NewRepository[item](work).Update(deleted))

		err := work.Commit(ctx)
		ae, ok := apperr.As(err)
		require.True(t, ok)
		require.Equal(t, apperr.KindValidation, ae.Kind)
		require.Equal(t, "deletion_state_inconsistent", ae.Code)

		rec, err := h.engine.Get(ctx, "test_item", seeded.ID, store.Filter{IncludeDeleted: true})
		require.NoError(t, err)
		require.True(t, rec.IsDeleted)
		require.NotNil(t, rec.DeletedAt)
	})

	t.Run("restoring clears the deletion stamp", func(t *testing.T) {
		work := h.begin(t, t1)
		deleted := loadDeleted(t, work)
		deleted.IsDeleted = false
		deleted.DeletedAt = nil
		require.NoError(t, NewRepository[item](work).Update(deleted))
		require.NoError(t, work.Commit(ctx))

		rec, err := h.engine.Get(ctx, "test_item", seeded.ID, store.Filter{})
		require.NoError(t, err)
		require.False(t, rec.IsDeleted)
		require.Nil(t, rec.DeletedAt)
		require.Empty(t, rec.DeletedBy)
	})
}

func TestCommit_EventsAttributedToStampedTenant(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()

	work := h.begin(t, t1)
	fresh := &item{Name: "washer"}
	fresh.ID = uuid.New()
	fresh.Restock(4)
	require.Equal(t, uuid.Nil, fresh.PendingEvents()[0].Tenant())
	require.NoError(t, NewRepository[item](work).Add(fresh))
	require.NoError(t, work.Commit(context.Background()))

	events := h.dispatcher.Events()
	require.Len(t, events, 1)
	require.Equal(t, t1, events[0].Tenant())
	require.Equal(t, fresh.ID, events[0].(restocked).ItemID)
}

func TestCommit_EventBufferOverflow(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()

	work := h.begin(t, t1)
	p := &item{Name: "hot"}
	p.TenantID = t1
	for range models.MaxPendingEvents + 1 {
		p.Restock(1)
	}
	require.NoError(t, NewRepository[item](work).Add(p))

	err := work.Commit(context.Background())
	ae, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, "event_buffer_overflow", ae.Code)
	require.Equal(t, 0, h.engine.Len())
	require.Zero(t, h.dispatcher.calls)
}

func TestCommit_Cancelled(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()

	work := h.begin(t, t1)
	p := &item{Name: "late"}
	p.TenantID = t1
	p.Restock(1)
	require.NoError(t, NewRepository[item](work).Add(p))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := work.Commit(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, h.engine.applies)
	require.Zero(t, h.dispatcher.calls)
	require.Equal(t, 0, h.engine.Len())
}

func TestCommit_ConcurrentModificationConflicts(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	seeded := h.seed(t, t1, "bolt")[0]

	works := make([]*UnitOfWork, 2)
	for i := range works {
		works[i] = h.begin(t, t1)
		repo := NewRepository[item](works[i])
		loaded, err := repo.GetByID(context.Background(), seeded.ID)
		require.NoError(t, err)
		loaded.Stock += int64(i + 1)
		require.NoError(t, repo.Update(loaded))
	}

	errs := make([]error, len(works))
	var g errgroup.Group
	for i, work := range works {
		g.Go(func() error {
			errs[i] = work.Commit(context.Background())
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.HasKind(err, apperr.KindConflict):
			conflicts++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)

	rec, err := h.engine.Get(context.Background(), "test_item", seeded.ID, store.Filter{})
	require.NoError(t, err)
	require.Equal(t, int64(2), rec.Version)
}

func TestUnitOfWork_Closed(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()

	work := h.begin(t, t1)
	require.NoError(t, work.Commit(context.Background()))
	require.ErrorIs(t, work.Commit(context.Background()), ErrClosed)
	require.ErrorIs(t, work.Rollback(), ErrClosed)
	require.ErrorIs(t, NewRepository[item](work).Add(&item{}), ErrClosed)

	work = h.begin(t, t1)
	require.NoError(t, NewRepository[item](work).Add(&item{Name: "abandoned"}))
	require.NoError(t, work.Rollback())
	require.ErrorIs(t, work.Commit(context.Background()), ErrClosed)
	require.Equal(t, 0, h.engine.Len())
}

func TestUnitOfWork_Changes(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	seeded := h.seed(t, t1, "bolt", "nut")

	work := h.begin(t, t1)
	repo := NewRepository[item](work)
	first, err := repo.GetByID(context.Background(), seeded[0].ID)
	require.NoError(t, err)
	second, err := repo.GetByID(context.Background(), seeded[1].ID)
	require.NoError(t, err)

	fresh := &item{Name: "washer"}
	require.NoError(t, repo.Add(fresh))
	require.NoError(t, repo.Update(first))
	require.NoError(t, repo.Update(first))
	require.NoError(t, repo.Remove(second))
	require.NoError(t, repo.Update(fresh))

	require.Equal(t, []Change{
		{Kind: "test_item", ID: fresh.ID, State: Added},
		{Kind: "test_item", ID: first.ID, State: Modified},
		{Kind: "test_item", ID: second.ID, State: Removed},
	}, work.Changes())

	err = repo.Update(second)
	require.True(t, apperr.HasKind(err, apperr.KindValidation))
	require.Error(t, repo.Add(first), "loaded entities cannot be added again")
}
