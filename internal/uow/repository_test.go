package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/stockroom/internal/apperr"
)

func TestRepository_TenantIsolation(t *testing.T) {
	h := newHarness()
	tenantX, tenantY := uuid.New(), uuid.New()
	a := h.seed(t, tenantX, "a")[0]
	b := h.seed(t, tenantY, "b")[0]

	ctx := context.Background()
	repo := NewRepository[item](h.begin(t, tenantX))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "a", got.Name)

	_, err = repo.GetByID(ctx, b.ID)
	require.True(t, apperr.HasKind(err, apperr.KindNotFound), "a guessed id of another tenant is not found")

	found, err := repo.Find(ctx, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, a.ID, found[0].ID)

	queried, err := repo.Query().Where(func(i *item) bool { return i.ID == b.ID }).List(ctx)
	require.NoError(t, err)
	require.Empty(t, queried)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	anyB, err := repo.Any(ctx, func(i *item) bool { return i.Name == "b" })
	require.NoError(t, err)
	require.False(t, anyB)

	t.Run("administrative unit of work is unrestricted", func(t *testing.T) {
		admin := NewRepository[item](h.begin(t, uuid.Nil))
		count, err := admin.Count(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})
}

func TestRepository_TenantIsImmutable(t *testing.T) {
	h := newHarness()
	tenantX, tenantY := uuid.New(), uuid.New()
	seeded := h.seed(t, tenantX, "a")[0]
	ctx := context.Background()

	for name, moveTo := range map[string]uuid.UUID{
		"to another tenant": tenantY,
		"to no tenant":      uuid.Nil,
	} {
		t.Run(name, func(t *testing.T) {
			work := h.begin(t, tenantX)
			repo := NewRepository[item](work)
			loaded, err := repo.GetByID(ctx, seeded.ID)
			require.NoError(t, err)

			loaded.TenantID = moveTo
			err = repo.Update(loaded)
			require.True(t, apperr.HasKind(err, apperr.KindForbidden))
			err = repo.Remove(loaded)
			require.True(t, apperr.HasKind(err, apperr.KindForbidden))
			require.False(t, work.HasChanges())
		})
	}

	t.Run("writes from another tenant", func(t *testing.T) {
		admin := NewRepository[item](h.begin(t, uuid.Nil))
		loaded, err := admin.GetByID(ctx, seeded.ID)
		require.NoError(t, err)

		other := NewRepository[item](h.begin(t, tenantY))
		err = other.Update(loaded)
		require.True(t, apperr.HasKind(err, apperr.KindForbidden))
	})

	t.Run("storage rejects a tenant change it did not load", func(t *testing.T) {
		admin := h.begin(t, uuid.Nil)
		loaded, err := NewRepository[item](h.begin(t, tenantX)).GetByID(ctx, seeded.ID)
		require.NoError(t, err)

		loaded.TenantID = tenantY
		require.NoError(t, NewRepository[item](admin).Update(loaded))
		err = admin.Commit(ctx)
		require.True(t, apperr.HasKind(err, apperr.KindForbidden))
	})
}

func TestRepository_IdentityMap(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	seeded := h.seed(t, t1, "a")[0]
	ctx := context.Background()

	repo := NewRepository[item](h.begin(t, t1))
	first, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	first.Name = "changed in memory"

	again, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.Same(t, first, again)

	listed, err := repo.Find(ctx, nil)
	require.NoError(t, err)
	require.Same(t, first, listed[0])
}

func TestRepository_FirstOrDefault(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	h.seed(t, t1, "a", "b")
	ctx := context.Background()

	repo := NewRepository[item](h.begin(t, t1))

	got, err := repo.FirstOrDefault(ctx, func(i *item) bool { return i.Name == "b" })
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "b", got.Name)

	missing, err := repo.FirstOrDefault(ctx, func(i *item) bool { return i.Name == "z" })
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestQuery(t *testing.T) {
	h := newHarness()
	t1 := uuid.New()
	seeded := h.seed(t, t1, "d", "b", "a", "c", "e")
	ctx := context.Background()

	byName := func(a, b *item) bool { return a.Name < b.Name }
	names := func(items []*item) []string {
		out := make([]string, 0, len(items))
		for _, i := range items {
			out = append(out, i.Name)
		}
		return out
	}

	work := h.begin(t, t1)
	repo := NewRepository[item](work)

	t.Run("creation order by default", func(t *testing.T) {
		all, err := repo.Query().List(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"d", "b", "a", "c", "e"}, names(all))
	})

	t.Run("order limit offset", func(t *testing.T) {
		page, err := repo.Query().OrderBy(byName).Offset(1).Limit(2).List(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "c"}, names(page))

		empty, err := repo.Query().Offset(10).List(ctx)
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("where composes", func(t *testing.T) {
		q := repo.Query().
			Where(func(i *item) bool { return i.Name != "a" }).
			Where(func(i *item) bool { return i.Name != "e" }).
			OrderBy(byName)

		count, err := q.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, count)

		first, err := q.First(ctx)
		require.NoError(t, err)
		require.Equal(t, "b", first.Name)
	})

	t.Run("first on empty result", func(t *testing.T) {
		_, err := repo.Query().Where(func(i *item) bool { return false }).First(ctx)
		require.True(t, apperr.HasKind(err, apperr.KindNotFound))
	})

	t.Run("deleted rows only on request", func(t *testing.T) {
		remover := h.begin(t, t1)
		r := NewRepository[item](remover)
		victim, err := r.GetByID(ctx, seeded[0].ID)
		require.NoError(t, err)
		require.NoError(t, r.Remove(victim))
		require.NoError(t, remover.Commit(ctx))

		reader := NewRepository[item](h.begin(t, t1))
		visible, err := reader.Query().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, visible)

		withDeleted, err := reader.Query().IncludeDeleted().Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, withDeleted)
	})
}

func TestRetryOnConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("retries conflicts until success", func(t *testing.T) {
		attempts := 0
		err := RetryOnConflict(ctx, RetryConfig{InitialInterval: 1}, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return apperr.Conflict("version_conflict", "stale")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		attempts := 0
		err := RetryOnConflict(ctx, RetryConfig{MaxAttempts: 2, InitialInterval: 1}, func(ctx context.Context) error {
			attempts++
			return apperr.Conflict("version_conflict", "stale")
		})
		require.True(t, apperr.HasKind(err, apperr.KindConflict))
		require.Equal(t, 2, attempts)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		boom := errors.New("boom")
		attempts := 0
		err := RetryOnConflict(ctx, RetryConfig{InitialInterval: 1}, func(ctx context.Context) error {
			attempts++
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, attempts)
	})

	t.Run("reloads and wins against a concurrent writer", func(t *testing.T) {
		h := newHarness()
		t1 := uuid.New()
		seeded := h.seed(t, t1, "a")[0]

		// a competing writer bumps the version after our first load
		interfered := false
		err := RetryOnConflict(ctx, RetryConfig{InitialInterval: 1}, func(ctx context.Context) error {
			work := h.begin(t, t1)
			repo := NewRepository[item](work)
			loaded, err := repo.GetByID(ctx, seeded.ID)
			if err != nil {
				return err
			}

			if !interfered {
				interfered = true
				other := h.begin(t, t1)
				rival, err := NewRepository[item](other).GetByID(ctx, seeded.ID)
				require.NoError(t, err)
				rival.Stock = 99
				require.NoError(t, NewRepository[item](other).Update(rival))
				require.NoError(t, other.Commit(ctx))
			}

			loaded.Stock++
			if err := repo.Update(loaded); err != nil {
				return err
			}
			return work.Commit(ctx)
		})
		require.NoError(t, err)

		final, err := NewRepository[item](h.begin(t, t1)).GetByID(ctx, seeded.ID)
		require.NoError(t, err)
		require.Equal(t, int64(100), final.Stock)
	})
}
