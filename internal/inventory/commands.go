package inventory

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/stockroom/internal/apperr"
)

type CreateProduct struct {
	SKU          string
	Name         string
	CostCents    int64
	PriceCents   int64
	InitialStock int64
	ReorderLevel int64
	UnitID       uuid.UUID
}

func (c CreateProduct) Validate() *apperr.Error {
	switch {
	case strings.TrimSpace(c.SKU) == "":
		return apperr.Validation("sku_required", "sku is required")
	case strings.TrimSpace(c.Name) == "":
		return apperr.Validation("name_required", "name is required")
	case c.CostCents < 0 || c.PriceCents < 0:
		return apperr.Validation("negative_amount", "cost and price must not be negative")
	case c.InitialStock < 0 || c.ReorderLevel < 0:
		return apperr.Validation("negative_quantity", "stock and reorder level must not be negative")
	}
	return nil
}

type ChangePrice struct {
	ProductID  uuid.UUID
	PriceCents int64
}

func (c ChangePrice) Validate() *apperr.Error {
	if c.ProductID == uuid.Nil {
		return apperr.Validation("product_required", "product id is required")
	}
	if c.PriceCents < 0 {
		return apperr.Validation("negative_amount", "price must not be negative")
	}
	return nil
}

type SaleLineRequest struct {
	ProductID uuid.UUID
	Quantity  int64
}

type RecordSale struct {
	CustomerID uuid.UUID
	Lines      []SaleLineRequest
}

func (c RecordSale) Validate() *apperr.Error {
	if len(c.Lines) == 0 {
		return apperr.Validation("lines_required", "a sale needs at least one line")
	}
	for _, l := range c.Lines {
		if l.ProductID == uuid.Nil {
			return apperr.Validation("product_required", "every line needs a product id")
		}
		if l.Quantity <= 0 {
			return apperr.Validation("invalid_quantity", "quantities must be positive")
		}
	}
	return nil
}

type CreateCustomer struct {
	Name  string
	Email string
}

func (c CreateCustomer) Validate() *apperr.Error {
	return validateCustomer(c.Name, c.Email)
}

// UpdateCustomer carries the version the client last read.
type UpdateCustomer struct {
	ID      uuid.UUID
	Version int64
	Name    string
	Email   string
}

func (c UpdateCustomer) Validate() *apperr.Error {
	if c.ID == uuid.Nil {
		return apperr.Validation("customer_required", "customer id is required")
	}
	if c.Version <= 0 {
		return apperr.Validation("version_required", "the version token is required")
	}
	return validateCustomer(c.Name, c.Email)
}

type RemoveCustomer struct {
	ID uuid.UUID
}

func (c RemoveCustomer) Validate() *apperr.Error {
	if c.ID == uuid.Nil {
		return apperr.Validation("customer_required", "customer id is required")
	}
	return nil
}

type CreateUnit struct {
	Code string
	Name string
}

func (c CreateUnit) Validate() *apperr.Error {
	if strings.TrimSpace(c.Code) == "" {
		return apperr.Validation("code_required", "unit code is required")
	}
	return nil
}

type DeleteUnit struct {
	ID uuid.UUID
}

func (c DeleteUnit) Validate() *apperr.Error {
	if c.ID == uuid.Nil {
		return apperr.Validation("unit_required", "unit id is required")
	}
	return nil
}

type GetProduct struct {
	ID uuid.UUID
}

func (q GetProduct) Validate() *apperr.Error {
	if q.ID == uuid.Nil {
		return apperr.Validation("product_required", "product id is required")
	}
	return nil
}

type ListLowStock struct {
	Limit int
}

func (q ListLowStock) Validate() *apperr.Error {
	if q.Limit < 0 {
		return apperr.Validation("invalid_limit", "limit must not be negative")
	}
	return nil
}

// ProductView is the read model returned by queries.
type ProductView struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	CostCents    int64     `json:"cost_cents"`
	PriceCents   int64     `json:"price_cents"`
	Stock        int64     `json:"stock"`
	ReorderLevel int64     `json:"reorder_level"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func viewOf(p *Product) ProductView {
	return ProductView{
		ID:           p.ID,
		TenantID:     p.TenantID,
		SKU:          p.SKU,
		Name:         p.Name,
		CostCents:    p.CostCents,
		PriceCents:   p.PriceCents,
		Stock:        p.Stock,
		ReorderLevel: p.ReorderLevel,
		Version:      p.Version,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func validateCustomer(name, email string) *apperr.Error {
	if strings.TrimSpace(name) == "" {
		return apperr.Validation("name_required", "name is required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return apperr.Validation("invalid_email", "email address is not valid")
		}
	}
	return nil
}
