// Package tenant holds the ambient tenant of a single unit of work.
//
// A Context is created per request or job and passed explicitly to the code
// that persists state. There is no package-level tenant: two units of work
// running concurrently each own their own Context.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrAlreadyBound  = errors.New("tenant already bound to a different value")
	ErrInvalidTenant = errors.New("invalid tenant id")
)

// Context carries the tenant identifier for one unit of work.
// The zero value is unbound, which means an unscoped (administrative) operation.
type Context struct {
	mu       sync.RWMutex
	tenantID uuid.UUID
	bound    bool
}

// New returns an unbound Context.
func New() *Context {
	return &Context{}
}

// For returns a Context already bound to tenantID.
func For(tenantID uuid.UUID) (*Context, error) {
	tc := New()
	if err := tc.Set(tenantID); err != nil {
		return nil, err
	}
	return tc, nil
}

// Get returns the bound tenant, or false when none is bound.
func (c *Context) Get() (uuid.UUID, bool) {
	if c == nil {
		return uuid.Nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tenantID, c.bound
}

// Set binds the tenant. Binding the same tenant again is a no-op, binding a
// different one returns ErrAlreadyBound and leaves the original in place.
func (c *Context) Set(tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return ErrInvalidTenant
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound {
		if c.tenantID == tenantID {
			return nil
		}
		return fmt.Errorf("%w: bound=%s requested=%s", ErrAlreadyBound, c.tenantID, tenantID)
	}

	c.tenantID = tenantID
	c.bound = true
	return nil
}

// String implements fmt.Stringer for log fields.
func (c *Context) String() string {
	id, ok := c.Get()
	if !ok {
		return "none"
	}
	return id.String()
}

type contextKey struct{}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant Context stored in ctx, or nil.
func FromContext(ctx context.Context) *Context {
	tc, _ := ctx.Value(contextKey{}).(*Context)
	return tc
}
