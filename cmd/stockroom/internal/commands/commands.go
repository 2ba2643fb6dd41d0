package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/stockroom/internal/events"
	"github.com/wolfeidau/stockroom/internal/inventory"
	"github.com/wolfeidau/stockroom/internal/pipeline"
	"github.com/wolfeidau/stockroom/internal/store"
	memorystore "github.com/wolfeidau/stockroom/internal/store/memory"
	postgresstore "github.com/wolfeidau/stockroom/internal/store/postgres"
	"github.com/wolfeidau/stockroom/internal/telemetry"
	"github.com/wolfeidau/stockroom/internal/uow"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// PostgresFlags configures the PostgreSQL pool and engine.
type PostgresFlags struct {
	ConnString      string        `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	MaxConns        int32         `help:"maximum connections in the pool" default:"20" env:"STOCKROOM_POSTGRES_MAX_CONNS"`
	MinConns        int32         `help:"minimum idle connections in the pool" default:"2" env:"STOCKROOM_POSTGRES_MIN_CONNS"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h" env:"STOCKROOM_POSTGRES_MAX_CONN_LIFETIME"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m" env:"STOCKROOM_POSTGRES_MAX_CONN_IDLE_TIME"`
	QueryTimeout    time.Duration `help:"timeout for reads" default:"10s" env:"STOCKROOM_POSTGRES_QUERY_TIMEOUT"`
	IsolationLevel  string        `help:"isolation level for commits" default:"read committed" env:"STOCKROOM_POSTGRES_ISOLATION_LEVEL" enum:"read committed,repeatable read,serializable"`
}

// Validate checks the pool settings.
func (f *PostgresFlags) Validate() error {
	if f.MinConns > f.MaxConns {
		return fmt.Errorf("postgres-min-conns (%d) exceeds postgres-max-conns (%d)", f.MinConns, f.MaxConns)
	}
	return nil
}

func (f *PostgresFlags) poolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      f.ConnString,
		MaxConns:        f.MaxConns,
		MinConns:        f.MinConns,
		MaxConnLifetime: f.MaxConnLifetime,
		MaxConnIdleTime: f.MaxConnIdleTime,
	}
}

// StoreFlags selects the storage engine behind every unit of work.
type StoreFlags struct {
	StoreType   string        `help:"store type (memory or postgres)" default:"memory" env:"STOCKROOM_STORE_TYPE" enum:"memory,postgres"`
	AutoMigrate bool          `help:"apply migrations before starting (postgres only)" default:"false" env:"STOCKROOM_AUTO_MIGRATE"`
	Postgres    PostgresFlags `embed:"" prefix:"postgres-"`
}

// Validate checks that the selected store is fully configured.
func (f *StoreFlags) Validate() error {
	if f.StoreType != "postgres" {
		return nil
	}
	if f.Postgres.ConnString == "" {
		return fmt.Errorf("postgres-conn-string is required when store type is postgres")
	}
	return f.Postgres.Validate()
}

// open returns the engine and a function releasing its resources.
func (f *StoreFlags) open(ctx context.Context, log zerolog.Logger) (store.Engine, func(), error) {
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}

	switch f.StoreType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, f.Postgres.poolConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if f.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		engine, err := postgresstore.NewEngine(pool, &postgresstore.EngineConfig{
			QueryTimeout:   f.Postgres.QueryTimeout,
			IsolationLevel: f.Postgres.IsolationLevel,
		})
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create postgres engine: %w", err)
		}
		log.Info().Bool("auto_migrate", f.AutoMigrate).Msg("Using PostgreSQL store")
		return engine, pool.Close, nil

	default:
		log.Info().Msg("Using in-memory store")
		return memorystore.NewEngine(), func() {}, nil
	}
}

// InventoryFlags are the business switches shared by serve and demo.
type InventoryFlags struct {
	AllowNegativeStock bool          `help:"allow sales to take stock below zero" default:"false" env:"STOCKROOM_ALLOW_NEGATIVE_STOCK"`
	LowStockLimit      int           `help:"maximum rows returned by the low stock query" default:"50" env:"STOCKROOM_LOW_STOCK_LIMIT"`
	SaleRetries        uint          `help:"attempts for a sale that hits a version conflict" default:"3" env:"STOCKROOM_SALE_RETRIES"`
	SlowRequest        time.Duration `help:"requests slower than this are logged as slow" default:"500ms" env:"STOCKROOM_SLOW_REQUEST"`
}

// stack is the wired application: one dispatcher and factory shared by all
// requests, each of which gets its own unit of work.
type stack struct {
	service *inventory.Service
	alerts  *inventory.LowStockAlerts
}

func newStack(engine store.Engine, flags InventoryFlags, log zerolog.Logger) *stack {
	dispatcher := events.NewDispatcher(log)
	alerts := inventory.NewLowStockAlerts(dispatcher, log)
	for _, kind := range []string{
		inventory.ProductPriceChanged{}.EventKind(),
		inventory.StockLevelChanged{}.EventKind(),
		inventory.SaleRecorded{}.EventKind(),
		inventory.CustomerRemoved{}.EventKind(),
	} {
		dispatcher.Register(kind, events.LogHandler())
	}

	factory := uow.NewFactory(engine, uow.WithDispatcher(dispatcher), uow.WithLogger(log))
	p := pipeline.New(log, pipeline.WithSlowThreshold(flags.SlowRequest))

	svc := inventory.NewService(factory, p, inventory.Settings{
		AllowNegativeStock: flags.AllowNegativeStock,
		LowStockLimit:      flags.LowStockLimit,
		Retry:              uow.RetryConfig{MaxAttempts: flags.SaleRetries},
	})
	return &stack{service: svc, alerts: alerts}
}

// setupTelemetry starts the OTLP exporters when enabled. The returned
// function flushes them and is always safe to call.
func setupTelemetry(ctx context.Context, enabled bool, version string, log zerolog.Logger) func() {
	if !enabled {
		return func() {}
	}

	log.Info().Msg("Tracing is enabled")
	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{ServiceName: "stockroom", Version: version})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}
