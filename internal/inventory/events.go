package inventory

import (
	"github.com/google/uuid"

	"github.com/wolfeidau/stockroom/internal/models"
)

var (
	_ models.TenantAssignable = ProductPriceChanged{}
	_ models.TenantAssignable = StockLevelChanged{}
	_ models.TenantAssignable = SaleRecorded{}
	_ models.TenantAssignable = CustomerRemoved{}
)

type ProductPriceChanged struct {
	models.EventMeta
	ProductID     uuid.UUID `json:"product_id"`
	PreviousCents int64     `json:"previous_cents"`
	CurrentCents  int64     `json:"current_cents"`
}

func (ProductPriceChanged) EventKind() string { return "inventory.product_price_changed" }

func (e ProductPriceChanged) WithTenant(tenantID uuid.UUID) models.DomainEvent {
	e.TenantID = tenantID
	return e
}

type StockLevelChanged struct {
	models.EventMeta
	ProductID    uuid.UUID `json:"product_id"`
	SKU          string    `json:"sku"`
	Previous     int64     `json:"previous"`
	Current      int64     `json:"current"`
	ReorderLevel int64     `json:"reorder_level"`
}

func (StockLevelChanged) EventKind() string { return "inventory.stock_level_changed" }

func (e StockLevelChanged) WithTenant(tenantID uuid.UUID) models.DomainEvent {
	e.TenantID = tenantID
	return e
}

// Low reports whether the new level is at or below the reorder level.
func (e StockLevelChanged) Low() bool { return e.Current <= e.ReorderLevel }

type SaleRecorded struct {
	models.EventMeta
	SaleID     uuid.UUID `json:"sale_id"`
	CustomerID uuid.UUID `json:"customer_id,omitempty"`
	Lines      int       `json:"lines"`
	TotalCents int64     `json:"total_cents"`
}

func (SaleRecorded) EventKind() string { return "inventory.sale_recorded" }

func (e SaleRecorded) WithTenant(tenantID uuid.UUID) models.DomainEvent {
	e.TenantID = tenantID
	return e
}

type CustomerRemoved struct {
	models.EventMeta
	CustomerID uuid.UUID `json:"customer_id"`
}

func (CustomerRemoved) EventKind() string { return "inventory.customer_removed" }

func (e CustomerRemoved) WithTenant(tenantID uuid.UUID) models.DomainEvent {
	e.TenantID = tenantID
	return e
}
