//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/stockroom/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*Engine, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString: fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, pool))
	// second run must be a no-op
	require.NoError(t, RunMigrations(ctx, pool))

	engine, err := NewEngine(pool, nil)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return engine, cleanup
}

func newRecord(kind string, tenantID uuid.UUID) *store.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &store.Record{
		Kind:      kind,
		ID:        uuid.Must(uuid.NewV7()),
		TenantID:  tenantID,
		CreatedAt: now,
		CreatedBy: "tester",
		UpdatedAt: now,
		UpdatedBy: "tester",
		Version:   1,
		Data:      []byte(`{"name":"widget"}`),
	}
}

func TestIntegration_Engine(t *testing.T) {
	ctx := context.Background()
	engine, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	tenantA, tenantB := uuid.New(), uuid.New()

	t.Run("insert and read back within tenant", func(t *testing.T) {
		rec := newRecord("product", tenantA)
		require.NoError(t, engine.Apply(ctx, []store.Change{{Op: store.OpInsert, Record: rec}}))

		got, err := engine.Get(ctx, "product", rec.ID, store.Filter{TenantID: tenantA})
		require.NoError(t, err)
		require.Equal(t, tenantA, got.TenantID)
		require.Equal(t, int64(1), got.Version)
		require.JSONEq(t, `{"name":"widget"}`, string(got.Data))

		_, err = engine.Get(ctx, "product", rec.ID, store.Filter{TenantID: tenantB})
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("global kinds store a null tenant", func(t *testing.T) {
		rec := newRecord("unit", uuid.Nil)
		require.NoError(t, engine.Apply(ctx, []store.Change{{Op: store.OpInsert, Record: rec}}))

		got, err := engine.Get(ctx, "unit", rec.ID, store.Filter{})
		require.NoError(t, err)
		require.Equal(t, uuid.Nil, got.TenantID)
	})

	t.Run("duplicate insert fails", func(t *testing.T) {
		rec := newRecord("product", tenantA)
		require.NoError(t, engine.Apply(ctx, []store.Change{{Op: store.OpInsert, Record: rec}}))
		err := engine.Apply(ctx, []store.Change{{Op: store.OpInsert, Record: rec}})
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("soft delete hides the row but keeps it", func(t *testing.T) {
		rec := newRecord("customer", tenantA)
		require.NoError(t, engine.Apply(ctx, []store.Change{{Op: store.OpInsert, Record: rec}}))

		del := rec.Clone()
		now := time.Now().UTC()
		del.IsDeleted = true
		del.DeletedAt = &now
		del.DeletedBy = "tester"
		require.NoError(t, engine.Apply(ctx, []store.Change{{Op: store.OpUpdate, Record: del}}))

		_, err := engine.Get(ctx, "customer", rec.ID, store.Filter{TenantID: tenantA})
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := engine.Get(ctx, "customer", rec.ID, store.Filter{TenantID: tenantA, IncludeDeleted: true})
		require.NoError(t, err)
		require.True(t, got.IsDeleted)
		require.Equal(t, int64(2), got.Version)
	})

	t.Run("tenant cannot be changed", func(t *testing.T) {
		rec := newRecord("product", tenantA)
		require.NoError(t, engine.Apply(ctx, []store.Change{{Op: store.OpInsert, Record: rec}}))

		moved := rec.Clone()
		moved.TenantID = tenantB
		err := engine.Apply(ctx, []store.Change{{Op: store.OpUpdate, Record: moved}})
		require.ErrorIs(t, err, store.ErrTenantMismatch)
	})

	t.Run("failed batch is rolled back", func(t *testing.T) {
		existing := newRecord("product", tenantA)
		require.NoError(t, engine.Apply(ctx, []store.Change{{Op: store.OpInsert, Record: existing}}))

		fresh := newRecord("product", tenantA)
		stale := existing.Clone()
		stale.Version = 7
		err := engine.Apply(ctx, []store.Change{
			{Op: store.OpInsert, Record: fresh},
			{Op: store.OpUpdate, Record: stale},
		})
		require.ErrorIs(t, err, store.ErrVersionConflict)

		_, err = engine.Get(ctx, "product", fresh.ID, store.Filter{})
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("concurrent updates of one version: exactly one wins", func(t *testing.T) {
		rec := newRecord("customer", tenantA)
		require.NoError(t, engine.Apply(ctx, []store.Change{{Op: store.OpInsert, Record: rec}}))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := engine.Apply(ctx, []store.Change{{Op: store.OpUpdate, Record: rec.Clone()}})
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}()
		}
		wg.Wait()

		var ok, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrVersionConflict):
				conflicts++
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, conflicts)
	})

	t.Run("list orders by creation and filters tenant", func(t *testing.T) {
		tenantC := uuid.New()
		first := newRecord("sale", tenantC)
		second := newRecord("sale", tenantC)
		second.CreatedAt = first.CreatedAt.Add(time.Second)
		require.NoError(t, engine.Apply(ctx, []store.Change{
			{Op: store.OpInsert, Record: second},
			{Op: store.OpInsert, Record: first},
			{Op: store.OpInsert, Record: newRecord("sale", tenantB)},
		}))

		list, err := engine.List(ctx, "sale", store.Filter{TenantID: tenantC})
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, first.ID, list[0].ID)
		require.Equal(t, second.ID, list[1].ID)
	})
}
