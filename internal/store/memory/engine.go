package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/stockroom/internal/store"
)

type recordKey struct {
	kind string
	id   uuid.UUID
}

// Engine implements store.Engine using in-memory storage.
// This implementation is for testing and the demo - data is lost on restart.
type Engine struct {
	mu sync.RWMutex

	records map[recordKey]*store.Record
}

// NewEngine creates a new in-memory storage engine.
func NewEngine() *Engine {
	return &Engine{
		records: make(map[recordKey]*store.Record),
	}
}

// Get retrieves a record by kind and ID.
func (e *Engine) Get(ctx context.Context, kind string, id uuid.UUID, filter store.Filter) (*store.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, exists := e.records[recordKey{kind, id}]
	if !exists || !filter.Matches(rec) {
		return nil, store.ErrNotFound
	}

	// Clone to avoid external modifications
	return rec.Clone(), nil
}

// List returns all records of a kind matching the filter.
func (e *Engine) List(ctx context.Context, kind string, filter store.Filter) ([]*store.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var result []*store.Record
	for key, rec := range e.records {
		if key.kind != kind || !filter.Matches(rec) {
			continue
		}
		result = append(result, rec.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// Apply validates every change against an overlay of the current state and
// only then publishes the overlay, so a failing change leaves nothing behind.
func (e *Engine) Apply(ctx context.Context, changes []store.Change) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// nil value in the overlay marks a deletion
	overlay := make(map[recordKey]*store.Record, len(changes))
	current := func(key recordKey) (*store.Record, bool) {
		if rec, ok := overlay[key]; ok {
			return rec, rec != nil
		}
		rec, ok := e.records[key]
		return rec, ok
	}

	for i, change := range changes {
		rec := change.Record
		key := recordKey{rec.Kind, rec.ID}
		existing, exists := current(key)

		switch change.Op {
		case store.OpInsert:
			if exists {
				return fmt.Errorf("change %d: %s %s: %w", i, rec.Kind, rec.ID, store.ErrAlreadyExists)
			}
			overlay[key] = rec.Clone()

		case store.OpUpdate:
			if !exists {
				return fmt.Errorf("change %d: %s %s: %w", i, rec.Kind, rec.ID, store.ErrNotFound)
			}
			if existing.Version != rec.Version {
				return fmt.Errorf("change %d: %s %s: stored version %d, expected %d: %w",
					i, rec.Kind, rec.ID, existing.Version, rec.Version, store.ErrVersionConflict)
			}
			if existing.TenantID != rec.TenantID {
				return fmt.Errorf("change %d: %s %s: %w", i, rec.Kind, rec.ID, store.ErrTenantMismatch)
			}
			next := rec.Clone()
			next.CreatedAt, next.CreatedBy = existing.CreatedAt, existing.CreatedBy
			next.Version = existing.Version + 1
			overlay[key] = next

		case store.OpDelete:
			if !exists {
				return fmt.Errorf("change %d: %s %s: %w", i, rec.Kind, rec.ID, store.ErrNotFound)
			}
			if existing.Version != rec.Version {
				return fmt.Errorf("change %d: %s %s: stored version %d, expected %d: %w",
					i, rec.Kind, rec.ID, existing.Version, rec.Version, store.ErrVersionConflict)
			}
			overlay[key] = nil

		default:
			return fmt.Errorf("change %d: unsupported op %d", i, change.Op)
		}
	}

	for key, rec := range overlay {
		if rec == nil {
			delete(e.records, key)
			continue
		}
		e.records[key] = rec
	}

	log.Debug().Int("changes", len(changes)).Msg("Applied changes")

	return nil
}

// Len returns the number of stored records, deleted or not.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records)
}
