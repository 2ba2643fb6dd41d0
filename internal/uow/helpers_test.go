package uow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/stockroom/internal/models"
	"github.com/wolfeidau/stockroom/internal/store"
	"github.com/wolfeidau/stockroom/internal/store/memory"
	"github.com/wolfeidau/stockroom/internal/tenant"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// item is tenant-scoped and auditable.
type item struct {
	models.Base
	models.Audit
	models.TenantScope
	Name  string `json:"name"`
	Stock int64  `json:"stock"`
}

func (*item) Kind() string { return "test_item" }

func (i *item) Restock(n int64) {
	i.Stock += n
	i.Raise(restocked{EventMeta: models.NewEventMeta(i.TenantID), ItemID: i.ID, Qty: n})
}

// label is global and physically deleted.
type label struct {
	models.Base
	Code string `json:"code"`
}

func (*label) Kind() string { return "test_label" }

type restocked struct {
	models.EventMeta
	ItemID uuid.UUID
	Qty    int64
}

func (restocked) EventKind() string { return "test.restocked" }

func (e restocked) WithTenant(tenantID uuid.UUID) models.DomainEvent {
	e.TenantID = tenantID
	return e
}

type recordingDispatcher struct {
	mu     sync.Mutex
	calls  int
	events []models.DomainEvent
}

func (d *recordingDispatcher) DispatchEvents(_ context.Context, events []models.DomainEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.events = append(d.events, events...)
}

func (d *recordingDispatcher) Events() []models.DomainEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.DomainEvent(nil), d.events...)
}

// flakyEngine fails Apply while failing is set and counts attempts.
type flakyEngine struct {
	*memory.Engine
	mu      sync.Mutex
	failing bool
	applies int
}

var errStorageDown = errors.New("storage unavailable")

func (e *flakyEngine) Apply(ctx context.Context, changes []store.Change) error {
	e.mu.Lock()
	e.applies++
	failing := e.failing
	e.mu.Unlock()

	if failing {
		return errStorageDown
	}
	return e.Engine.Apply(ctx, changes)
}

type harness struct {
	engine     *flakyEngine
	dispatcher *recordingDispatcher
	factory    *Factory
}

func newHarness() *harness {
	h := &harness{
		engine:     &flakyEngine{Engine: memory.NewEngine()},
		dispatcher: &recordingDispatcher{},
	}
	h.factory = NewFactory(h.engine,
		WithDispatcher(h.dispatcher),
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(zerolog.Nop()),
	)
	return h
}

func (h *harness) begin(t *testing.T, tenantID uuid.UUID) *UnitOfWork {
	t.Helper()

	tc := tenant.New()
	if tenantID != uuid.Nil {
		require.NoError(t, tc.Set(tenantID))
	}
	work, err := h.factory.Begin(tc, "alice")
	require.NoError(t, err)
	return work
}

// seed commits items under tenantID and returns them.
func (h *harness) seed(t *testing.T, tenantID uuid.UUID, names ...string) []*item {
	t.Helper()

	work := h.begin(t, tenantID)
	repo := NewRepository[item](work)

	items := make([]*item, 0, len(names))
	for _, name := range names {
		items = append(items, &item{Name: name, Stock: 10})
	}
	require.NoError(t, repo.AddRange(items...))
	require.NoError(t, work.Commit(context.Background()))
	return items
}
