package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for common error conditions
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionConflict = errors.New("record version conflict")
	ErrTenantMismatch  = errors.New("record tenant mismatch")
)

// Record is the persisted form of an entity. The metadata columns are kept
// outside Data so engines can filter on tenant and deletion without decoding.
type Record struct {
	Kind     string
	ID       uuid.UUID
	TenantID uuid.UUID // uuid.Nil for kinds that are not tenant scoped

	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
	IsDeleted bool
	DeletedAt *time.Time
	DeletedBy string

	// Version is the optimistic concurrency token. For updates and deletes it
	// carries the version the caller loaded; the engine stores Version+1.
	Version int64

	// Data is the JSON encoded entity.
	Data []byte
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	c.Data = append([]byte(nil), r.Data...)
	return &c
}

// Op is the kind of write in a Change.
type Op int

const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one write inside an atomic Apply.
type Change struct {
	Op     Op
	Record *Record
}

// Filter restricts reads.
type Filter struct {
	// TenantID limits results to one tenant. uuid.Nil means no restriction.
	TenantID uuid.UUID

	// IncludeDeleted returns soft deleted records too.
	IncludeDeleted bool
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r *Record) bool {
	if f.TenantID != uuid.Nil && r.TenantID != f.TenantID {
		return false
	}
	if r.IsDeleted && !f.IncludeDeleted {
		return false
	}
	return true
}

// Engine is the storage engine behind every unit of work.
type Engine interface {
	// Get returns a single record. Returns ErrNotFound when the record does
	// not exist or is excluded by the filter.
	Get(ctx context.Context, kind string, id uuid.UUID, filter Filter) (*Record, error)

	// List returns the records of a kind ordered by creation time.
	List(ctx context.Context, kind string, filter Filter) ([]*Record, error)

	// Apply writes all changes in one atomic transaction. Either every change
	// is persisted or none is.
	//
	// Updates and deletes whose version no longer matches storage fail with
	// ErrVersionConflict; updates that would move a record to another tenant
	// fail with ErrTenantMismatch.
	Apply(ctx context.Context, changes []Change) error
}
