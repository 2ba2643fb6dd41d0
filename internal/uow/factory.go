// Package uow implements the unit of work: a single-writer change set that is
// stamped, rewritten and persisted in one transaction, with the domain events
// it captured dispatched only after the write is durable.
package uow

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockroom/internal/models"
	"github.com/wolfeidau/stockroom/internal/store"
	"github.com/wolfeidau/stockroom/internal/telemetry"
	"github.com/wolfeidau/stockroom/internal/tenant"
)

var (
	// ErrClosed is returned when a unit of work is used after Commit or Rollback.
	ErrClosed = errors.New("unit of work is closed")
	// ErrNoTenantContext is returned by Begin when no tenant context is supplied.
	ErrNoTenantContext = errors.New("tenant context is required")
)

// EventDispatcher receives the events captured by a successful commit.
type EventDispatcher interface {
	DispatchEvents(ctx context.Context, events []models.DomainEvent)
}

// Factory holds the collaborators shared by every unit of work. It is safe
// for concurrent use; the units of work it creates are not.
type Factory struct {
	engine     store.Engine
	dispatcher EventDispatcher
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
}

// Option configures a Factory.
type Option func(*Factory)

// WithClock overrides the time source used for audit stamps.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// WithLogger sets the logger used for commit diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// WithDispatcher sets the post-commit event dispatcher.
func WithDispatcher(d EventDispatcher) Option {
	return func(f *Factory) { f.dispatcher = d }
}

// NewFactory creates a unit of work factory over engine.
func NewFactory(engine store.Engine, opts ...Option) *Factory {
	f := &Factory{
		engine:     engine,
		dispatcher: nopDispatcher{},
		now:        time.Now,
		logger:     log.Logger,
		metrics:    telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "uow").Logger()
	return f
}

// Begin starts a unit of work bound to tc and attributed to actor. The tenant
// context may still be unbound, which makes the unit of work administrative.
func (f *Factory) Begin(tc *tenant.Context, actor string) (*UnitOfWork, error) {
	if tc == nil {
		return nil, ErrNoTenantContext
	}
	if actor == "" {
		actor = SystemActor
	}

	return &UnitOfWork{
		factory:   f,
		tenant:    tc,
		actor:     actor,
		index:     make(map[entityKey]*entry),
		snapshots: make(map[entityKey]snapshot),
	}, nil
}

// BeginFromContext starts a unit of work using the tenant context carried by ctx.
func (f *Factory) BeginFromContext(ctx context.Context, actor string) (*UnitOfWork, error) {
	return f.Begin(tenant.FromContext(ctx), actor)
}

type nopDispatcher struct{}

func (nopDispatcher) DispatchEvents(context.Context, []models.DomainEvent) {}
