package inventory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/stockroom/internal/events"
)

// LowStockAlert is raised when a stock change lands at or below the reorder level.
type LowStockAlert struct {
	TenantID  uuid.UUID
	ProductID uuid.UUID
	SKU       string
	Stock     int64
}

// LowStockAlerts watches committed stock changes and logs products that need
// reordering. The most recent alerts are kept for inspection.
type LowStockAlerts struct {
	logger zerolog.Logger

	mu     sync.Mutex
	recent []LowStockAlert
	limit  int
}

// NewLowStockAlerts creates the handler and subscribes it to d.
func NewLowStockAlerts(d *events.Dispatcher, logger zerolog.Logger) *LowStockAlerts {
	a := &LowStockAlerts{
		logger: logger.With().Str("component", "low_stock_alerts").Logger(),
		limit:  100,
	}
	events.Subscribe(d, a.handle)
	return a
}

func (a *LowStockAlerts) handle(ctx context.Context, e StockLevelChanged) error {
	// only alert on the transition, not on every sale below the line
	if !e.Low() || e.Previous <= e.ReorderLevel {
		return nil
	}

	alert := LowStockAlert{TenantID: e.Tenant(), ProductID: e.ProductID, SKU: e.SKU, Stock: e.Current}

	a.mu.Lock()
	a.recent = append(a.recent, alert)
	if len(a.recent) > a.limit {
		a.recent = a.recent[len(a.recent)-a.limit:]
	}
	a.mu.Unlock()

	a.logger.Warn().
		Str("tenant_id", alert.TenantID.String()).
		Str("product_id", alert.ProductID.String()).
		Str("sku", alert.SKU).
		Int64("stock", alert.Stock).
		Int64("reorder_level", e.ReorderLevel).
		Msg("Product stock is low")
	return nil
}

// Recent returns the alerts raised so far, oldest first.
func (a *LowStockAlerts) Recent() []LowStockAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]LowStockAlert(nil), a.recent...)
}
