package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/stockroom/internal/store"
)

const recordColumns = `kind, id, tenant_id, created_at, created_by, updated_at, updated_by,
	is_deleted, deleted_at, deleted_by, version, data`

// Engine implements store.Engine on a single PostgreSQL "records" table.
// It shares the connection pool with any other user of the database.
type Engine struct {
	pool *pgxpool.Pool
	cfg  *EngineConfig
}

// NewEngine creates a new PostgreSQL-backed storage engine.
func NewEngine(pool *pgxpool.Pool, cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		cfg = &EngineConfig{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Engine{pool: pool, cfg: cfg}, nil
}

// Get retrieves a single record honouring the tenant and deletion filter.
func (e *Engine) Get(ctx context.Context, kind string, id uuid.UUID, filter store.Filter) (*store.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + `
		FROM records
		WHERE kind = $1 AND id = $2
		  AND ($3::uuid IS NULL OR tenant_id = $3)
		  AND ($4 OR NOT is_deleted)`

	rec, err := scanRecord(e.pool.QueryRow(ctx, query, kind, id, nullUUID(filter.TenantID), filter.IncludeDeleted))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", kind, mapPostgresError(err))
	}

	return rec, nil
}

// List returns the records of a kind ordered by creation time.
func (e *Engine) List(ctx context.Context, kind string, filter store.Filter) ([]*store.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + `
		FROM records
		WHERE kind = $1
		  AND ($2::uuid IS NULL OR tenant_id = $2)
		  AND ($3 OR NOT is_deleted)
		ORDER BY created_at, id`

	rows, err := e.pool.Query(ctx, query, kind, nullUUID(filter.TenantID), filter.IncludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, mapPostgresError(err))
	}
	defer rows.Close()

	var records []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", kind, mapPostgresError(err))
	}

	return records, nil
}

// Apply writes every change inside one transaction.
func (e *Engine) Apply(ctx context.Context, changes []store.Change) error {
	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.TxIsoLevel(e.cfg.IsolationLevel)})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	for i, change := range changes {
		if err := applyChange(ctx, tx, change); err != nil {
			return fmt.Errorf("change %d (%s %s %s): %w",
				i, change.Op, change.Record.Kind, change.Record.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapPostgresError(err))
	}

	log.Debug().Int("changes", len(changes)).Msg("Applied changes")

	return nil
}

func applyChange(ctx context.Context, tx pgx.Tx, change store.Change) error {
	rec := change.Record

	switch change.Op {
	case store.OpInsert:
		_, err := tx.Exec(ctx, `
			INSERT INTO records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			rec.Kind, rec.ID, nullUUID(rec.TenantID),
			rec.CreatedAt, rec.CreatedBy, rec.UpdatedAt, rec.UpdatedBy,
			rec.IsDeleted, rec.DeletedAt, rec.DeletedBy,
			rec.Version, rec.Data,
		)
		return mapPostgresError(err)

	case store.OpUpdate:
		// tenant_id is part of the predicate and never in SET: it is immutable
		result, err := tx.Exec(ctx, `
			UPDATE records SET
				updated_at = $5,
				updated_by = $6,
				is_deleted = $7,
				deleted_at = $8,
				deleted_by = $9,
				version    = version + 1,
				data       = $10
			WHERE kind = $1 AND id = $2 AND version = $3
			  AND tenant_id IS NOT DISTINCT FROM $4`,
			rec.Kind, rec.ID, rec.Version, nullUUID(rec.TenantID),
			rec.UpdatedAt, rec.UpdatedBy,
			rec.IsDeleted, rec.DeletedAt, rec.DeletedBy,
			rec.Data,
		)
		if err != nil {
			return mapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return classifyMiss(ctx, tx, rec)
		}
		return nil

	case store.OpDelete:
		result, err := tx.Exec(ctx,
			`DELETE FROM records WHERE kind = $1 AND id = $2 AND version = $3`,
			rec.Kind, rec.ID, rec.Version,
		)
		if err != nil {
			return mapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return classifyMiss(ctx, tx, rec)
		}
		return nil

	default:
		return fmt.Errorf("unsupported op %d", change.Op)
	}
}

// classifyMiss explains why a versioned write matched no row.
func classifyMiss(ctx context.Context, tx pgx.Tx, rec *store.Record) error {
	var (
		version  int64
		tenantID uuid.NullUUID
	)
	err := tx.QueryRow(ctx,
		`SELECT version, tenant_id FROM records WHERE kind = $1 AND id = $2`,
		rec.Kind, rec.ID,
	).Scan(&version, &tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return mapPostgresError(err)
	}

	if tenantID.UUID != rec.TenantID {
		return store.ErrTenantMismatch
	}

	return fmt.Errorf("stored version %d, expected %d: %w", version, rec.Version, store.ErrVersionConflict)
}

func scanRecord(row pgx.Row) (*store.Record, error) {
	var (
		rec      store.Record
		tenantID uuid.NullUUID
	)
	err := row.Scan(
		&rec.Kind,
		&rec.ID,
		&tenantID,
		&rec.CreatedAt,
		&rec.CreatedBy,
		&rec.UpdatedAt,
		&rec.UpdatedBy,
		&rec.IsDeleted,
		&rec.DeletedAt,
		&rec.DeletedBy,
		&rec.Version,
		&rec.Data,
	)
	if err != nil {
		return nil, err
	}
	rec.TenantID = tenantID.UUID
	return &rec, nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}
