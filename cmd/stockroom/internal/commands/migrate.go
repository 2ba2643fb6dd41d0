package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/stockroom/internal/logger"
	postgresstore "github.com/wolfeidau/stockroom/internal/store/postgres"
)

type MigrateCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	if c.Postgres.ConnString == "" {
		return fmt.Errorf("postgres-conn-string is required")
	}
	if err := c.Postgres.Validate(); err != nil {
		return err
	}

	pool, err := postgresstore.NewPool(ctx, c.Postgres.poolConfig())
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()

	if err := postgresstore.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Str("version", globals.Version).Msg("Migrations applied")
	return nil
}
