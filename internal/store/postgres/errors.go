package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/stockroom/internal/store"
)

// mapPostgresError maps PostgreSQL-specific errors to store sentinel errors.
// Returns the original error if it's not a PostgreSQL error.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		if pgErr.ConstraintName == "records_pkey" {
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pgErr.Detail)
		}
		return fmt.Errorf("unique constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		// Another writer won the race for the same rows
		return fmt.Errorf("%w: %s", store.ErrVersionConflict, pgErr.Message)

	case pgerrcode.CheckViolation:
		return fmt.Errorf("check constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection:
		return fmt.Errorf("database connection error: %w", err)

	case pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown:
		return fmt.Errorf("database server unavailable: %w", err)

	case pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}
