// Package inventory is a thin products, customers and sales module that
// drives the persistence pipeline. Money is held in integer cents.
package inventory

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfeidau/stockroom/internal/apperr"
	"github.com/wolfeidau/stockroom/internal/models"
)

// Entity kinds as stored.
const (
	KindProduct       = "product"
	KindCustomer      = "customer"
	KindSale          = "sale"
	KindUnitOfMeasure = "unit_of_measure"
)

// Product is a stocked item owned by a tenant.
type Product struct {
	models.Base
	models.Audit
	models.TenantScope

	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	CostCents    int64     `json:"cost_cents"`
	PriceCents   int64     `json:"price_cents"`
	Stock        int64     `json:"stock"`
	ReorderLevel int64     `json:"reorder_level"`
	UnitID       uuid.UUID `json:"unit_id,omitempty"`
}

func (*Product) Kind() string { return KindProduct }

// NewProduct creates a product. Creation raises no events.
func NewProduct(sku, name string, costCents, priceCents, stock, reorderLevel int64) *Product {
	return &Product{
		SKU:          sku,
		Name:         name,
		CostCents:    costCents,
		PriceCents:   priceCents,
		Stock:        stock,
		ReorderLevel: reorderLevel,
	}
}

// ChangePrice sets a new selling price. Selling below cost is not allowed.
func (p *Product) ChangePrice(priceCents int64) *apperr.Error {
	if priceCents < p.CostCents {
		return apperr.DomainRuleViolation("price_below_cost",
			fmt.Sprintf("price %d is below cost %d", priceCents, p.CostCents))
	}
	if priceCents == p.PriceCents {
		return nil
	}

	previous := p.PriceCents
	p.PriceCents = priceCents
	p.Raise(ProductPriceChanged{
		EventMeta:     models.NewEventMeta(p.TenantID),
		ProductID:     p.ID,
		PreviousCents: previous,
		CurrentCents:  priceCents,
	})
	return nil
}

// CanRemove reports whether qty units can be taken from stock.
func (p *Product) CanRemove(qty int64, allowNegative bool) *apperr.Error {
	if !allowNegative && qty > p.Stock {
		return apperr.InsufficientResource(p.ID.String(), qty, p.Stock)
	}
	return nil
}

// AdjustStock changes the stock level by delta.
func (p *Product) AdjustStock(delta int64, allowNegative bool) *apperr.Error {
	if delta == 0 {
		return nil
	}
	if delta < 0 {
		if err := p.CanRemove(-delta, allowNegative); err != nil {
			return err
		}
	}

	previous := p.Stock
	p.Stock += delta
	p.Raise(StockLevelChanged{
		EventMeta:    models.NewEventMeta(p.TenantID),
		ProductID:    p.ID,
		SKU:          p.SKU,
		Previous:     previous,
		Current:      p.Stock,
		ReorderLevel: p.ReorderLevel,
	})
	return nil
}

// Customer buys products.
type Customer struct {
	models.Base
	models.Audit
	models.TenantScope

	Name  string `json:"name"`
	Email string `json:"email"`
}

func (*Customer) Kind() string { return KindCustomer }

// MarkRemoved records that the customer is being removed. The repository
// performs the removal itself.
func (c *Customer) MarkRemoved() {
	c.Raise(CustomerRemoved{
		EventMeta:  models.NewEventMeta(c.TenantID),
		CustomerID: c.ID,
	})
}

// SaleLine is one product on a sale.
type SaleLine struct {
	ProductID      uuid.UUID `json:"product_id"`
	Quantity       int64     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

// Sale is a completed sale.
type Sale struct {
	models.Base
	models.Audit
	models.TenantScope

	CustomerID uuid.UUID  `json:"customer_id,omitempty"`
	Lines      []SaleLine `json:"lines"`
	TotalCents int64      `json:"total_cents"`
}

func (*Sale) Kind() string { return KindSale }

// NewSale totals lines and raises SaleRecorded attributed to tenantID. The id
// is assigned here so the event can refer to it.
func NewSale(tenantID, customerID uuid.UUID, lines []SaleLine) (*Sale, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate sale id: %w", err)
	}

	s := &Sale{CustomerID: customerID, Lines: lines}
	s.ID = id
	for _, l := range lines {
		s.TotalCents += l.Quantity * l.UnitPriceCents
	}
	s.Raise(SaleRecorded{
		EventMeta:  models.NewEventMeta(tenantID),
		SaleID:     id,
		CustomerID: customerID,
		Lines:      len(lines),
		TotalCents: s.TotalCents,
	})
	return s, nil
}

// UnitOfMeasure is shared by all tenants and is deleted physically.
type UnitOfMeasure struct {
	models.Base

	Code string `json:"code"`
	Name string `json:"name"`
}

func (*UnitOfMeasure) Kind() string { return KindUnitOfMeasure }
